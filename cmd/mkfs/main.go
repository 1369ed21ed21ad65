// Command mkfs builds a KTFS disk image on the host: a fresh superblock,
// an empty root directory, and optionally every regular file found in a
// skeleton directory, copied in flat (KTFS has no subdirectories).
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/ktfs"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

var (
	inodeBitmapBlocks uint32
	dataBitmapBlocks  uint32
	inodeBlocks       uint32
	skelDir           string
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs <output-image>",
		Short: "build a KTFS disk image from a host directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	root.Flags().Uint32Var(&inodeBitmapBlocks, "inode-bitmap-blocks", 1,
		"blocks reserved for the inode bitmap")
	root.Flags().Uint32Var(&dataBitmapBlocks, "data-bitmap-blocks", 4,
		"blocks reserved for the data bitmap (bounds the image's total block count)")
	root.Flags().Uint32Var(&inodeBlocks, "inode-blocks", 64,
		"blocks reserved for the inode table")
	root.Flags().StringVar(&skelDir, "skel", "",
		"host directory whose regular files are copied into the image")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(imagePath string) error {
	sb := ktfs.Superblock{
		InodeBitmapBlockCount: inodeBitmapBlocks,
		BitmapBlockCount:      dataBitmapBlocks,
		InodeBlockCount:       inodeBlocks,
		RootDirectoryInode:    0,
	}
	sb.BlockCount = dataBlockBound(&sb)

	st := storage.NewFileStorage(imagePath, ktfs.BlockSize)
	if err := st.Open(); err != 0 {
		return fmt.Errorf("open %s: %v", imagePath, err)
	}
	defer st.Close()

	mgr := thread.NewManager(nil)
	c := cache.New(mgr, st)

	mount, err := ktfs.Format(mgr, c, sb)
	if err != 0 {
		return fmt.Errorf("format: %v", err)
	}

	if skelDir != "" {
		if err := addFiles(mount, skelDir); err != nil {
			return err
		}
	}

	if err := mount.Flush(); err != 0 {
		return fmt.Errorf("flush: %v", err)
	}
	return nil
}

// dataBlockBound returns the total block count an image needs so that the
// data bitmap sb describes can address every block that follows it,
// mirroring ktfs/layout.go's own anchor arithmetic (block 0 is the
// superblock, then the inode bitmap, then the data bitmap, then the inode
// table, then data).
func dataBlockBound(sb *ktfs.Superblock) uint32 {
	dataStart := 1 + sb.InodeBitmapBlockCount + sb.BitmapBlockCount + sb.InodeBlockCount
	return dataStart + sb.BitmapBlockCount*ktfs.BlockSize*8
}

// addFiles walks skelDir and creates a KTFS file for every regular file
// found, named by its base name since the flat root directory has no
// notion of subdirectories. Mirrors the teacher's addfiles/copydata walk,
// rewritten against KTFS's Create/Open instead of ufs.Ufs_t's MkFile/MkDir.
func addFiles(mount *ktfs.Mount, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if len(name) > ktfs.MaxNameLen {
			fmt.Fprintf(os.Stderr, "skipping %s: name longer than %d bytes\n", path, ktfs.MaxNameLen)
			return nil
		}
		if cerr := mount.Create(name); cerr != 0 {
			return fmt.Errorf("create %s: %v", name, cerr)
		}
		return copyFile(mount, path, name)
	})
}

// copyFile streams src's contents into the already-created KTFS file dst,
// one block at a time, the same chunking copydata uses against fs.BSIZE.
func copyFile(mount *ktfs.Mount, src, dst string) error {
	f, oerr := os.Open(src)
	if oerr != nil {
		return fmt.Errorf("open %s: %w", src, oerr)
	}
	defer f.Close()

	u, kerr := mount.Open(dst)
	if kerr != 0 {
		return fmt.Errorf("open image file %s: %v", dst, kerr)
	}

	buf := make([]byte, ktfs.BlockSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := u.Write(buf[:n]); werr != 0 {
				return fmt.Errorf("write %s: %v", dst, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", src, rerr)
		}
	}
}
