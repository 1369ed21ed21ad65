// Package uio defines the open-file/device/pipe abstraction every
// descriptor in a process's uiotab points at, plus the pipe implementation
// (the one uio kind with no backing device or filesystem).
package uio

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

// Uio is the common surface every open file, device, or pipe presents to
// the syscall layer.
type Uio interface {
	Read(buf []byte) (int, defs.Err_t)
	Write(buf []byte) (int, defs.Err_t)
	Cntl(op int, arg uint64) (uint64, defs.Err_t)
	Close() defs.Err_t
}

// Ref wraps a Uio with a refcount, matching Process.uiotab's "owning
// reference, decrement on close, fully close when count reaches zero"
// contract.
type Ref struct {
	mgr   *thread.Manager
	lk    *thread.Lock
	uio   Uio
	count int
}

// NewRef wraps uio in a fresh Ref with a refcount of 1.
func NewRef(mgr *thread.Manager, u Uio) *Ref {
	return &Ref{mgr: mgr, lk: thread.NewLock(), uio: u, count: 1}
}

// Dup increments the refcount, for uiodup and fork's shallow-copy of the
// parent's descriptor table.
func (r *Ref) Dup() {
	r.mgr.Acquire(r.lk)
	r.count++
	r.mgr.Release(r.lk)
}

// Close decrements the refcount, closing the underlying Uio once it
// reaches zero.
func (r *Ref) Close() defs.Err_t {
	r.mgr.Acquire(r.lk)
	r.count--
	n := r.count
	r.mgr.Release(r.lk)
	if n > 0 {
		return 0
	}
	return r.uio.Close()
}

func (r *Ref) Read(buf []byte) (int, defs.Err_t)            { return r.uio.Read(buf) }
func (r *Ref) Write(buf []byte) (int, defs.Err_t)           { return r.uio.Write(buf) }
func (r *Ref) Cntl(op int, arg uint64) (uint64, defs.Err_t) { return r.uio.Cntl(op, arg) }
