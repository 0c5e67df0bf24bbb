//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly || windows)

package validation

import "errors"

func statDisk(string) (int64, int64, error) {
	return 0, 0, errors.ErrUnsupported
}
