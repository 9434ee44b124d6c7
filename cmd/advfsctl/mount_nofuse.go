//go:build !fuse

package main

import "fmt"

// runMount reports that this build was compiled without FUSE support. Build
// with -tags fuse to get the real implementation in mount_fuse.go.
func runMount(imgPath, mountpoint string) error {
	return fmt.Errorf("advfsctl: built without fuse support (rebuild with -tags fuse)")
}
