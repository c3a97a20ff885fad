//go:build !linux

package adapter

import "os"

// Advisory locking is wired on linux only; other platforms rely on the
// atomic rename.
func lockFile(*os.File) error {
	return nil
}
