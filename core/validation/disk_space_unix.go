//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package validation

import "golang.org/x/sys/unix"

// statDisk reports the size of the filesystem holding dir and the bytes an
// unprivileged process may still write to it.
func statDisk(dir string) (total, avail int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	return int64(st.Blocks) * bsize, int64(st.Bavail) * bsize, nil
}
