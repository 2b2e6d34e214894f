// Package caller prints Go call stacks for kernel diagnostics. It is the
// panic-time companion to defs.Panicf: every invariant violation reported
// through defs.Panicf prints one of these dumps before halting.
package caller

import (
	"fmt"
	"runtime"
)

// Dump prints the call stack starting at the given skip depth, one frame
// per line, innermost first.
func Dump(skip int) {
	fmt.Print(Format(skip + 1))
}

// Format renders the call stack starting at the given skip depth as a
// string instead of printing it directly, so tests can assert on its
// shape without capturing stdout.
func Format(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
