//go:build windows

package validation

import "golang.org/x/sys/windows"

// statDisk reports the size of the volume holding dir and the bytes
// available to the calling user, which honours disk quotas.
func statDisk(dir string) (total, avail int64, err error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}
	var callerFree, size, volumeFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &callerFree, &size, &volumeFree); err != nil {
		return 0, 0, err
	}
	return int64(size), int64(callerFree), nil
}
