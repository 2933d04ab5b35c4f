//go:build !windows

package readers

import "fmt"

// Physical drive access uses the Win32 device namespace; on other systems
// a raw device node is opened through the regular raw driver instead.
func OpenPhysicalDrive(path string) (Driver, error) {
	return nil, fmt.Errorf("physical drive access for %s is only supported on windows", path)
}
