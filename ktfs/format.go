package ktfs

import (
	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

// Format writes a fresh superblock and an empty root directory into c,
// then returns a Mount ready to serve Open/Create/Delete against it. sb's
// BlockCount and the two bitmap/inode-block counts must already describe
// a layout that fits c's underlying storage; Format does not resize
// anything.
//
// This is the one place a root directory's own inode gets marked used in
// the inode bitmap: every other inode allocation goes through Create's
// own findFree scan, which would otherwise be free to hand the root's own
// inode number to the first file ever created.
func Format(mgr *thread.Manager, c *cache.Cache, sb Superblock) (*Mount, defs.Err_t) {
	buf, err := c.GetBlock(0)
	if err != 0 {
		return nil, err
	}
	enc := EncodeSuperblock(&sb)
	copy(buf[:], enc[:])
	c.ReleaseBlock(buf, true)

	m, err := NewMount(mgr, c)
	if err != 0 {
		return nil, err
	}
	if err := m.mark(bitmapInode, uint32(sb.RootDirectoryInode)); err != 0 {
		return nil, err
	}
	var root Inode
	if err := m.writeInode(sb.RootDirectoryInode, &root); err != 0 {
		return nil, err
	}
	return m, 0
}
