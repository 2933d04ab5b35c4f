package readers

import "fmt"

// Driver is the capability set every container format adapter implements:
// random reads in its own logical address space, a total size, a one-shot
// close and a human readable description. Drivers return plain errors with
// whatever diagnostic text the backing library produced, classification
// into the error taxonomy happens in the img layer.
type Driver interface {
	Read(offset int64, buf []byte) (int, error)
	GetSize() int64
	Close() error
	Describe() string
}

// ExpensiveReader is implemented by drivers whose reads are costly enough
// (chunk decompression, sparse-extent resolution) that concurrent fills of
// the same missing cache chunk are worth de-duplicating.
type ExpensiveReader interface {
	ExpensiveReads() bool
}

// AlignedReader is implemented by drivers that mishandle or gain nothing
// from sub-sector requests; images over such drivers use the uncached,
// sector-rounded read path.
type AlignedReader interface {
	PreferUncached() bool
}

// OpenDriver builds the driver for the given format tag over the ordered
// segment paths. The format set is closed, an unknown tag is an error.
func OpenDriver(format string, paths []string) (Driver, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no segment paths supplied")
	}
	switch format {
	case "raw":
		return OpenRaw(paths)
	case "ewf":
		return OpenEWF(paths[0])
	case "vmdk":
		return OpenVMDK(paths[0])
	case "mmap":
		return OpenMmap(paths[0])
	case "physicalDrive":
		return OpenPhysicalDrive(paths[0])
	}
	return nil, fmt.Errorf("unknown image format %q", format)
}
