package uio

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

// pipeBufSize is the capacity of a pipe's backing ring buffer.
const pipeBufSize = 512

// pipe is the shared state behind a pipe's two ends. It stays reachable,
// and so is not reclaimed, while either end or a thread parked in Wait on
// one of its conditions still refers to it. waiters counts the threads
// currently parked; Close on either end does not consult it.
type pipe struct {
	mgr *thread.Manager
	lk  *thread.Lock

	buf        [pipeBufSize]byte
	head, tail int
	count      int

	readerClosed bool
	writerClosed bool
	waiters      int

	notEmpty *thread.Condition
	notFull  *thread.Condition
}

func newPipe(mgr *thread.Manager) *pipe {
	return &pipe{
		mgr:      mgr,
		lk:       thread.NewLock(),
		notEmpty: thread.NewCondition("pipe.not_empty"),
		notFull:  thread.NewCondition("pipe.not_full"),
	}
}

// NewPipe returns the (read-end, write-end) pair for a fresh pipe.
func NewPipe(mgr *thread.Manager) (Uio, Uio) {
	p := newPipe(mgr)
	return &pipeReader{p: p}, &pipeWriter{p: p}
}

type pipeReader struct{ p *pipe }
type pipeWriter struct{ p *pipe }

func (r *pipeReader) Read(buf []byte) (int, defs.Err_t) {
	p := r.p
	p.mgr.Acquire(p.lk)
	defer p.mgr.Release(p.lk)

	for p.count == 0 {
		if p.writerClosed {
			return 0, 0
		}
		p.waitLocked(p.notEmpty)
	}
	n := 0
	for n < len(buf) && p.count > 0 {
		buf[n] = p.buf[p.head]
		p.head = (p.head + 1) % pipeBufSize
		p.count--
		n++
	}
	p.mgr.Broadcast(p.notFull)
	return n, 0
}

func (r *pipeReader) Write(buf []byte) (int, defs.Err_t) { return 0, defs.ENOTSUP }

func (r *pipeReader) Cntl(op int, arg uint64) (uint64, defs.Err_t) { return 0, defs.ENOTSUP }

func (r *pipeReader) Close() defs.Err_t {
	p := r.p
	p.mgr.Acquire(p.lk)
	p.readerClosed = true
	p.mgr.Broadcast(p.notFull)
	p.mgr.Release(p.lk)
	return 0
}

func (w *pipeWriter) Write(buf []byte) (int, defs.Err_t) {
	p := w.p
	p.mgr.Acquire(p.lk)
	defer p.mgr.Release(p.lk)

	if p.readerClosed {
		return 0, defs.EPIPE
	}
	n := 0
	for n < len(buf) {
		for p.count == pipeBufSize {
			if p.readerClosed {
				p.mgr.Broadcast(p.notEmpty)
				if n > 0 {
					return n, 0
				}
				return 0, defs.EPIPE
			}
			p.waitLocked(p.notFull)
		}
		for n < len(buf) && p.count < pipeBufSize {
			p.buf[p.tail] = buf[n]
			p.tail = (p.tail + 1) % pipeBufSize
			p.count++
			n++
		}
		p.mgr.Broadcast(p.notEmpty)
	}
	return n, 0
}

func (w *pipeWriter) Read(buf []byte) (int, defs.Err_t) { return 0, defs.ENOTSUP }

func (w *pipeWriter) Cntl(op int, arg uint64) (uint64, defs.Err_t) { return 0, defs.ENOTSUP }

func (w *pipeWriter) Close() defs.Err_t {
	p := w.p
	p.mgr.Acquire(p.lk)
	p.writerClosed = true
	p.mgr.Broadcast(p.notEmpty)
	p.mgr.Release(p.lk)
	return 0
}

// waitLocked parks the caller on cond, counted in p.waiters for as long
// as it stays parked. p.lk must be held on entry; it is
// released around the park and reacquired before returning, matching the
// cache's own hand-rolled release-park-reacquire sequence (thread.Wait has
// no built-in lock argument to do this for the caller).
func (p *pipe) waitLocked(cond *thread.Condition) {
	p.waiters++
	p.mgr.Release(p.lk)
	p.mgr.Wait(cond)
	p.mgr.Acquire(p.lk)
	p.waiters--
}
