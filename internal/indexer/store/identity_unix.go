//go:build unix

package store

import (
	"fmt"
	"os"
	"syscall"
)

// rootIdentity identifies the root directory by device and inode, so a root
// that was deleted and recreated under the same path is detected.
func rootIdentity(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("%d:%d", uint64(st.Dev), uint64(st.Ino)), nil
}
