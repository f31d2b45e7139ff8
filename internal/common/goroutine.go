// -----------------------------------------------------------------------
// Panic-protected execution for worker goroutines
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeRun calls fn and converts a panic into an error so that one worker
// cannot take the process down.
//
// Example:
//
//	g.Go(func() error {
//	    return common.SafeRun(logger, "worker-1", func() error { return w.run(ctx) })
//	})
func SafeRun(logger arbor.ILogger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)

			if logger != nil {
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(buf[:n])).
					Msg("Recovered from panic")
			}

			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()

	return fn()
}
