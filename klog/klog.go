// Package klog is the kernel's console logger. The freestanding tier has no
// heap-backed logging library underneath it: it writes formatted lines
// straight to a sink with fmt.Fprintf, and panics for conditions the design
// calls fatal.
package klog

import (
	"fmt"
	"io"
	"os"
)

// Sink is where kernel log output goes. Defaults to stderr so a hosted test
// binary sees it; the real kernel entry point redirects it to the console
// device.
var Sink io.Writer = os.Stderr

// Printf writes a formatted line to Sink, unconditionally.
func Printf(format string, args ...any) {
	fmt.Fprintf(Sink, format, args...)
}

// Panicf formats a message and panics with it, used for conditions that are
// always fatal: unexpected S-mode exceptions and memory/page-table
// corruption.
func Panicf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
