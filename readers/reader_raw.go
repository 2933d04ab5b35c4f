package readers

import (
	"fmt"
	"os"
	"sort"

	"github.com/aarsakian/ImageAccess/logger"
)

// RawDriver serves a raw image stored as one file or an ordered set of
// split segment files. Segments are opened up front and a cumulative
// offset table maps logical offsets to the right file, reads may span
// segment boundaries.
type RawDriver struct {
	paths  []string
	files  []*os.File
	starts []int64 // logical start offset of each segment
	size   int64
}

func OpenRaw(paths []string) (*RawDriver, error) {
	driver := &RawDriver{paths: paths}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening segment %s: %w", path, err)
		}
		finfo, err := file.Stat()
		if err != nil {
			file.Close()
			driver.Close()
			return nil, fmt.Errorf("sizing segment %s: %w", path, err)
		}
		driver.files = append(driver.files, file)
		driver.starts = append(driver.starts, driver.size)
		driver.size += finfo.Size()
	}
	logger.IMGLogger.Info(fmt.Sprintf("raw image opened: %d segments, %d bytes",
		len(driver.files), driver.size))
	return driver, nil
}

func (driver *RawDriver) Read(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset >= driver.size {
		return 0, fmt.Errorf("raw read at %d past image size %d", offset, driver.size)
	}
	if remaining := driver.size - offset; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	// first segment whose range contains offset
	idx := sort.Search(len(driver.starts), func(i int) bool {
		return driver.starts[i] > offset
	}) - 1

	total := 0
	for total < len(buf) {
		segOffset := offset + int64(total) - driver.starts[idx]
		n, err := driver.files[idx].ReadAt(buf[total:], segOffset)
		total += n
		if total == len(buf) {
			break
		}
		// a short read at a segment boundary continues in the next file
		if idx+1 < len(driver.files) {
			idx++
			continue
		}
		if err == nil {
			err = fmt.Errorf("short read of %d bytes", n)
		}
		return total, fmt.Errorf("reading %s at %d: %w", driver.paths[idx], segOffset, err)
	}
	return total, nil
}

func (driver *RawDriver) GetSize() int64 {
	return driver.size
}

func (driver *RawDriver) Close() error {
	var firstErr error
	for _, file := range driver.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	driver.files = nil
	return firstErr
}

func (driver *RawDriver) Describe() string {
	return fmt.Sprintf("raw image, %d segment(s), %d bytes", len(driver.paths), driver.size)
}
