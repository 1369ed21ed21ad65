// Command diskimg inspects an existing KTFS disk image: it mounts it
// read-only (in the sense that nothing it does writes back) and lists
// every live file and its size.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/ktfs"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

func main() {
	root := &cobra.Command{
		Use:   "diskimg <image>",
		Short: "list the files in a KTFS disk image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(imagePath string) error {
	st := storage.NewFileStorage(imagePath, ktfs.BlockSize)
	if err := st.Open(); err != 0 {
		return fmt.Errorf("open %s: %v", imagePath, err)
	}
	defer st.Close()

	mgr := thread.NewManager(nil)
	c := cache.New(mgr, st)
	mount, merr := ktfs.NewMount(mgr, c)
	if merr != 0 {
		return fmt.Errorf("mount %s: %v", imagePath, merr)
	}

	listing, lerr := mount.Open("")
	if lerr != 0 {
		return fmt.Errorf("list %s: %v", imagePath, lerr)
	}

	buf := make([]byte, ktfs.MaxNameLen+1)
	for {
		n, rerr := listing.Read(buf)
		if rerr != 0 {
			return fmt.Errorf("read listing: %v", rerr)
		}
		if n == 0 {
			return nil
		}
		name := string(buf[:n])
		printEntry(mount, name)
	}
}

func printEntry(mount *ktfs.Mount, name string) {
	f, err := mount.Open(name)
	if err != 0 {
		fmt.Printf("%s\t?\n", name)
		return
	}
	size, err := f.Cntl(defs.FCNTL_GETEND, 0)
	if err != 0 {
		fmt.Printf("%s\t?\n", name)
		return
	}
	fmt.Printf("%s\t%d\n", name, size)
}
