package readers

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/aarsakian/ImageAccess/logger"
	"golang.org/x/sys/windows"
)

type diskGeometry struct {
	Cylinders         int64
	MediaType         int32
	TracksPerCylinder int32
	SectorsPerTrack   int32
	BytesPerSector    int32
}

// WindowsDriver reads a live physical drive (\\.\PHYSICALDRIVEn). Device
// handles only accept whole-sector transfers, so images over this driver
// use the uncached, sector-rounded read path. The handle carries a seek
// position, reads serialize under a driver lock.
type WindowsDriver struct {
	path string
	fd   windows.Handle
	size int64
	mu   sync.Mutex
}

func OpenPhysicalDrive(path string) (Driver, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("encoding device path %s: %w", path, err)
	}
	fd, err := windows.CreateFile(pathPtr, windows.GENERIC_READ,
		windows.FILE_SHARE_READ, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_SEQUENTIAL_SCAN, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", path, err)
	}

	size, err := queryDriveSize(fd)
	if err != nil {
		windows.Close(fd)
		return nil, fmt.Errorf("sizing device %s: %w", path, err)
	}
	logger.IMGLogger.Info(fmt.Sprintf("physical drive opened: %s, %d bytes", path, size))
	return &WindowsDriver{path: path, fd: fd, size: size}, nil
}

func queryDriveSize(fd windows.Handle) (int64, error) {
	const ioctlDiskGetDriveGeometry = 0x70000
	var geometry diskGeometry
	var returned uint32
	err := windows.DeviceIoControl(fd, ioctlDiskGetDriveGeometry,
		nil, 0, (*byte)(unsafe.Pointer(&geometry)), uint32(unsafe.Sizeof(geometry)),
		&returned, nil)
	if err != nil {
		return 0, err
	}
	return geometry.Cylinders * int64(geometry.TracksPerCylinder) *
		int64(geometry.SectorsPerTrack) * int64(geometry.BytesPerSector), nil
}

func (driver *WindowsDriver) Read(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset >= driver.size {
		return 0, fmt.Errorf("device read at %d past drive size %d", offset, driver.size)
	}
	if remaining := driver.size - offset; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()

	if _, err := windows.Seek(driver.fd, offset, windows.FILE_BEGIN); err != nil {
		return 0, fmt.Errorf("seeking device to %d: %w", offset, err)
	}

	total := 0
	for total < len(buf) {
		var done uint32
		if err := windows.ReadFile(driver.fd, buf[total:], &done, nil); err != nil {
			return total, fmt.Errorf("device read at %d: %w", offset+int64(total), err)
		}
		if done == 0 {
			return total, fmt.Errorf("device read at %d: no data", offset+int64(total))
		}
		total += int(done)
	}
	return total, nil
}

func (driver *WindowsDriver) GetSize() int64 {
	return driver.size
}

func (driver *WindowsDriver) Close() error {
	return windows.Close(driver.fd)
}

func (driver *WindowsDriver) Describe() string {
	return fmt.Sprintf("physical drive %s, %d bytes", driver.path, driver.size)
}

func (driver *WindowsDriver) PreferUncached() bool {
	return true
}
