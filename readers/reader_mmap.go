package readers

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapDriver memory-maps a single-segment raw image. The page cache
// already amortizes repeated access, so images over this driver skip the
// chunk cache entirely (uncached read path).
type MmapDriver struct {
	path    string
	file    *os.File
	mapping mmap.MMap
}

func OpenMmap(path string) (*MmapDriver, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	mapping, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &MmapDriver{path: path, file: file, mapping: mapping}, nil
}

func (driver *MmapDriver) Read(offset int64, buf []byte) (int, error) {
	size := int64(len(driver.mapping))
	if offset < 0 || offset >= size {
		return 0, fmt.Errorf("mmap read at %d past image size %d", offset, size)
	}
	return copy(buf, driver.mapping[offset:]), nil
}

func (driver *MmapDriver) GetSize() int64 {
	return int64(len(driver.mapping))
}

func (driver *MmapDriver) Close() error {
	err := driver.mapping.Unmap()
	if closeErr := driver.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (driver *MmapDriver) Describe() string {
	return fmt.Sprintf("memory-mapped raw image %s, %d bytes", driver.path, len(driver.mapping))
}

func (driver *MmapDriver) PreferUncached() bool {
	return true
}
