package readers

import (
	"fmt"
	"sync"

	vmdkLib "github.com/aarsakian/VMDK_Reader/vmdk"
	"github.com/aarsakian/ImageAccess/logger"
)

// VMDKDriver serves a VMDK sparse-extent image. Like the EWF library,
// grain table state inside the VMDK library is not reentrant, so calls
// serialize under a driver-local lock.
type VMDKDriver struct {
	path  string
	image vmdkLib.VMDKImage
	size  int64
	mu    sync.Mutex
}

func OpenVMDK(path string) (*VMDKDriver, error) {
	var image vmdkLib.VMDKImage
	image.Path = path
	image.Process()

	size := image.GetHDSize()
	if size <= 0 {
		return nil, fmt.Errorf("vmdk %s has no usable extent size", path)
	}
	logger.IMGLogger.Info(fmt.Sprintf("vmdk image opened: %s, %d bytes", path, size))
	return &VMDKDriver{path: path, image: image, size: size}, nil
}

func (driver *VMDKDriver) Read(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset >= driver.size {
		return 0, fmt.Errorf("vmdk read at %d past disk size %d", offset, driver.size)
	}
	length := int64(len(buf))
	if remaining := driver.size - offset; length > remaining {
		length = remaining
	}

	driver.mu.Lock()
	data := driver.image.RetrieveData(offset, length)
	driver.mu.Unlock()

	if int64(len(data)) < length {
		return copy(buf, data), fmt.Errorf("vmdk extent read at %d returned %d of %d bytes",
			offset, len(data), length)
	}
	return copy(buf, data[:length]), nil
}

func (driver *VMDKDriver) GetSize() int64 {
	return driver.size
}

func (driver *VMDKDriver) Close() error {
	return nil
}

func (driver *VMDKDriver) Describe() string {
	return fmt.Sprintf("VMDK image %s, %d bytes", driver.path, driver.size)
}

func (driver *VMDKDriver) ExpensiveReads() bool {
	return true
}
