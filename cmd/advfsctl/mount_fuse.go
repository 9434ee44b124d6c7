//go:build fuse

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drpnd/advfs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
)

// runMount loads the image at imgPath and serves it at mountpoint until
// interrupted, writing the (possibly modified) image back on a clean
// unmount.
func runMount(imgPath, mountpoint string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}

	srv, err := advfs.Mount(mountpoint, fsys, &gofuse.Options{})
	if err != nil {
		return fmt.Errorf("failed to mount: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Unmount()
	}()

	srv.Wait()
	return saveImage(imgPath, fsys)
}
