package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn on a new goroutine with panic recovery. Event dispatch and
// other fire-and-forget work goes through here so a panicking subscriber
// cannot take the process down; the panic is logged with its stack and the
// goroutine exits.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if logger == nil {
				fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n", name, r)
				return
			}
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			logger.Error().
				Str("goroutine", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from goroutine panic")
		}()
		fn()
	}()
}
