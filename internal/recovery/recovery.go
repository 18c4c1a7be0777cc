// Package recovery turns panics into fatal exits for main and the pipeline
// goroutine, and into errors for callbacks that must not take the process
// down.
package recovery

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// ErrPanic is wrapped by the error Call returns when fn panicked
var ErrPanic = errors.New("recovered panic")

// HandlePanic should be deferred at the top of main() or the pipeline
// goroutine. It writes panic details to stderr and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		fatal(r)
		os.Exit(1)
	}
}

// HandlePanicFunc writes panic details, calls cleanup and exits with code 1.
// Use it where resources such as the capture device must be released first.
//
//	go func() {
//		defer recovery.HandlePanicFunc(func() {
//			_ = capture.Close()
//		})
//		runPipeline(ctx)
//	}()
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		fatal(r)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}

// Call runs fn and converts a panic into an error wrapping ErrPanic. It is
// meant for callbacks from other libraries, e.g. MQTT message handlers,
// where one bad event should be logged and survived.
func Call(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovery: %s panicked: %v\n%s", name, r, debug.Stack())
			err = fmt.Errorf("%s: %w: %v", name, ErrPanic, r)
		}
	}()
	fn()
	return nil
}

func fatal(r interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
}
