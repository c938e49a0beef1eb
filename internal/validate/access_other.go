//go:build !unix

package validate

import (
	"fmt"
	"os"
)

// accessRW approximates access(2) with the permission bits where the
// syscall is unavailable.
func accessRW(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o600 != 0o600 {
		return fmt.Errorf("mode %s lacks owner rw", info.Mode().Perm())
	}
	return nil
}
