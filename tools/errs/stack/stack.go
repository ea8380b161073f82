package stack

import (
	"fmt"
	"runtime"
	"strings"
)

// withStack decorates an error with the call site captured at wrap
// time. The stack renders on %+v only, matching pkg/errors behavior.
type withStack struct {
	err    error
	frames []uintptr
}

func New(err error, skip int) error {
	if err == nil {
		return nil
	}
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	return &withStack{err: err, frames: pcs[:n]}
}

func (w *withStack) Error() string { return w.err.Error() }
func (w *withStack) Unwrap() error { return w.err }

func (w *withStack) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		var b strings.Builder
		b.WriteString(w.err.Error())
		frames := runtime.CallersFrames(w.frames)
		for {
			fr, more := frames.Next()
			b.WriteString(fmt.Sprintf("\n\t%s %s:%d", fr.Function, fr.File, fr.Line))
			if !more {
				break
			}
		}
		_, _ = fmt.Fprint(s, b.String())
		return
	}
	_, _ = fmt.Fprint(s, w.err.Error())
}
