package process

import (
	"os"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/klog"
)

// console is the uio behind fds 0/1/2: reads come from the host's stdin,
// writes go to klog.Sink, the same sink the kernel's own log lines go to.
// There is no real UART here; this is the hosted stand-in for D_CONSOLE.
type console struct{}

func (console) Read(buf []byte) (int, defs.Err_t) {
	n, err := os.Stdin.Read(buf)
	if err != nil && n == 0 {
		return 0, defs.EIO
	}
	return n, 0
}

func (console) Write(buf []byte) (int, defs.Err_t) {
	n, err := klog.Sink.Write(buf)
	if err != nil {
		return n, defs.EIO
	}
	return n, 0
}

func (console) Cntl(op int, arg uint64) (uint64, defs.Err_t) { return 0, defs.ENOTSUP }
func (console) Close() defs.Err_t                            { return 0 }
