package readers

import (
	"fmt"
	"sync"

	ewfLib "github.com/aarsakian/EWF_Reader/ewf"
	ewfutils "github.com/aarsakian/EWF_Reader/ewf/utils"
	"github.com/aarsakian/ImageAccess/logger"
)

// EWFDriver serves an Expert Witness (E01) evidence set. The EWF library
// keeps per-image chunk state that is not safe for concurrent use, so
// every call into it is serialized under the driver's own lock. That lock
// is distinct from the image cache lock on purpose, an Image never holds
// both at once.
type EWFDriver struct {
	path  string
	image ewfLib.EWF_Image
	size  int64
	mu    sync.Mutex
}

func OpenEWF(path string) (*EWFDriver, error) {
	filenames := ewfutils.FindEvidenceFiles(path)
	if len(filenames) == 0 {
		return nil, fmt.Errorf("no evidence files found for %s", path)
	}

	var image ewfLib.EWF_Image
	image.ParseEvidence(filenames)

	size := int64(image.Chunksize) * int64(image.NofChunks)
	if size <= 0 {
		return nil, fmt.Errorf("evidence set %s has no decoded media size", path)
	}
	logger.IMGLogger.Info(fmt.Sprintf("ewf image opened: %d evidence files, %d bytes",
		len(filenames), size))
	return &EWFDriver{path: path, image: image, size: size}, nil
}

func (driver *EWFDriver) Read(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset >= driver.size {
		return 0, fmt.Errorf("ewf read at %d past media size %d", offset, driver.size)
	}
	length := int64(len(buf))
	if remaining := driver.size - offset; length > remaining {
		length = remaining
	}

	driver.mu.Lock()
	data := driver.image.RetrieveData(offset, length)
	driver.mu.Unlock()

	if int64(len(data)) < length {
		return copy(buf, data), fmt.Errorf("ewf chunk retrieval at %d returned %d of %d bytes",
			offset, len(data), length)
	}
	return copy(buf, data[:length]), nil
}

func (driver *EWFDriver) GetSize() int64 {
	return driver.size
}

func (driver *EWFDriver) Close() error {
	return nil
}

func (driver *EWFDriver) Describe() string {
	return fmt.Sprintf("EWF evidence set %s, %d bytes", driver.path, driver.size)
}

// ExpensiveReads marks EWF reads as chunk-decompressing, so the image
// layer single-flights concurrent fills of the same cache chunk.
func (driver *EWFDriver) ExpensiveReads() bool {
	return true
}
