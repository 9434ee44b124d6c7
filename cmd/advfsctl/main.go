// Command advfsctl is a small CLI around the advfs in-memory filesystem: it
// can build a fresh image, list and cat its contents, load and write files
// into it, and (when built with -tags fuse) mount it.
package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/drpnd/advfs"
)

const usage = `advfsctl - advfs CLI tool

Usage:
  advfsctl init <image>                        Create a fresh empty image
  advfsctl ls <image> [<path>]                  List files in image (optionally in a specific path)
  advfsctl cat <image> <file>                   Display contents of a file in image
  advfsctl put <image> <src> <dst>              Copy a local file into image at dst
  advfsctl mkdir <image> <path>                 Create a directory in image
  advfsctl info <image>                         Display information about an image
  advfsctl mount <image> <mountpoint>           Mount image over FUSE (requires -tags fuse)
  advfsctl help                                 Show this help message

Examples:
  advfsctl init disk.img                        Create a new empty image
  advfsctl mkdir disk.img /docs                 Create a directory
  advfsctl put disk.img notes.txt /docs/notes.txt
  advfsctl ls disk.img /docs                    List the directory
  advfsctl cat disk.img /docs/notes.txt         Print its contents
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "init":
		err = requireArgs(2, func() error { return cmdInit(os.Args[2]) })
	case "ls":
		err = requireArgs(2, func() error {
			path := "/"
			if len(os.Args) > 3 {
				path = os.Args[3]
			}
			return cmdLs(os.Args[2], path)
		})
	case "cat":
		err = requireArgs(3, func() error { return cmdCat(os.Args[2], os.Args[3]) })
	case "put":
		err = requireArgs(4, func() error { return cmdPut(os.Args[2], os.Args[3], os.Args[4]) })
	case "mkdir":
		err = requireArgs(3, func() error { return cmdMkdir(os.Args[2], os.Args[3]) })
	case "info":
		err = requireArgs(2, func() error { return cmdInfo(os.Args[2]) })
	case "mount":
		err = requireArgs(3, func() error { return runMount(os.Args[2], os.Args[3]) })
	case "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Error: unknown command '%s'\n", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// requireArgs checks that os.Args[n] exists (n-1 arguments after the
// subcommand in os.Args[1]) before running fn, printing usage instead of
// panicking on a short invocation.
func requireArgs(n int, fn func() error) error {
	if len(os.Args) <= n {
		fmt.Println(usage)
		os.Exit(1)
	}
	return fn()
}

func openImage(path string) (*advfs.FS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	fsys, err := advfs.Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return fsys, nil
}

func saveImage(path string, fsys *advfs.FS) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer f.Close()
	if err := advfs.Dump(fsys, f, advfs.CodecGzip); err != nil {
		return fmt.Errorf("failed to dump image: %w", err)
	}
	return nil
}

func cmdInit(path string) error {
	fsys, err := advfs.New()
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	return saveImage(path, fsys)
}

func cmdLs(imgPath, dirPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}

	entries, err := fsys.Readdir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read directory '%s': %w", dirPath, err)
	}

	for _, entry := range entries {
		printFileInfo(entry)
	}
	return nil
}

func printFileInfo(info fs.FileInfo) {
	typeChar := "-"
	if info.IsDir() {
		typeChar = "d"
	}
	mode := info.Mode().String()
	permissions := mode[1:]

	size := fmt.Sprintf("%8d", info.Size())
	if info.IsDir() {
		size = "       -"
	}

	timeStr := info.ModTime().Format("Jan 02 15:04")
	fmt.Printf("%s%s %s %s %s\n", typeChar, permissions, size, timeStr, info.Name())
}

func cmdCat(imgPath, filePath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}

	ino, err := fsys.Open(filePath, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", filePath, err)
	}

	info, err := fsys.Getattr(filePath)
	if err != nil {
		return err
	}

	buf := make([]byte, info.Size())
	n, err := fsys.Read(ino, 0, buf)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", filePath, err)
	}

	_, err = os.Stdout.Write(buf[:n])
	return err
}

func cmdPut(imgPath, srcPath, dstPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", srcPath, err)
	}

	ino, err := fsys.Create(dstPath, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dstPath, err)
	}
	if _, err := fsys.Write(ino, 0, data); err != nil {
		return fmt.Errorf("failed to write '%s': %w", dstPath, err)
	}

	return saveImage(imgPath, fsys)
}

func cmdMkdir(imgPath, dirPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}
	if err := fsys.Mkdir(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dirPath, err)
	}
	return saveImage(imgPath, fsys)
}

func cmdInfo(imgPath string) error {
	fsys, err := openImage(imgPath)
	if err != nil {
		return err
	}
	st := fsys.Statfs()

	fmt.Println("advfs image information")
	fmt.Println("=======================")
	fmt.Printf("Block size:       %d bytes\n", st.BlockSize)
	fmt.Printf("Total blocks:     %d\n", st.TotalBlocks)
	fmt.Printf("Free blocks:      %d\n", st.FreeBlocks)
	fmt.Printf("Total inodes:     %d\n", st.TotalInodes)
	fmt.Printf("Free inodes:      %d\n", st.FreeInodes)

	var fileCount, dirCount int
	countEntries(fsys, "/", &fileCount, &dirCount)
	fmt.Println("\nContent Summary")
	fmt.Println("---------------")
	fmt.Printf("Directories:      %d\n", dirCount)
	fmt.Printf("Regular files:    %d\n", fileCount)
	return nil
}

func countEntries(fsys *advfs.FS, dir string, fileCount, dirCount *int) {
	entries, err := fsys.Readdir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		var sub string
		if dir == "/" {
			sub = "/" + entry.Name()
		} else {
			sub = dir + "/" + entry.Name()
		}
		if entry.IsDir() {
			*dirCount++
			countEntries(fsys, sub, fileCount, dirCount)
		} else {
			*fileCount++
		}
	}
}
