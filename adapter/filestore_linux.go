//go:build linux

package adapter

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory exclusive lock on the snapshot file,
// released when the file is closed. Only one controller instance is
// assumed live at a time; the lock guards against a second process
// racing the same record.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}
