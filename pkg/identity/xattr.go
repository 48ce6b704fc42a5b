package identity

import (
	"errors"

	"golang.org/x/sys/unix"
)

// XattrName is the extended attribute holding the identity record.
const XattrName = "user.fruitmix"

// getXattr returns the raw value of name on path without following symlinks.
// A missing attribute returns unix.ENODATA.
func getXattr(path, name string) ([]byte, error) {
	buf := make([]byte, 256)
	for {
		n, err := unix.Lgetxattr(path, name, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, unix.ERANGE) {
			return nil, err
		}
		// probe the real size and retry; the value may grow between calls
		size, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			return nil, err
		}
		buf = make([]byte, size+64)
	}
}

func setXattr(path, name string, value []byte) error {
	return unix.Lsetxattr(path, name, value, 0)
}

func isNoData(err error) bool {
	return errors.Is(err, unix.ENODATA)
}
