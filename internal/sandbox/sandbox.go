// Package sandbox executes caller-supplied scripts against the capability
// facade inside a goja runtime. Isolation is allow-list: the runtime has
// no ambient host capabilities, the require loader refuses every module,
// and anything not explicitly bound in the Context is unreachable.
package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// DefaultTimeout is the wall-clock execution budget when none is configured.
const DefaultTimeout = 30 * time.Second

const timeoutMessage = "execution exceeded time budget"

// Executor runs scripts. It holds no shared mutable state; every Execute
// call builds a fresh runtime and event loop, so one Executor may serve
// concurrent executions.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor with the given wall-clock budget.
// A non-positive timeout falls back to DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Execute runs the script with the bindings in sc and returns its produced
// value or a classified failure. The script body is wrapped in an async
// function so it may await at top level; `return` produces the value.
//
// On budget expiry the VM is interrupted and the loop stopped, but
// capability calls already dispatched are not cancelled: their remote
// requests run to completion and the results are discarded.
func (e *Executor) Execute(ctx context.Context, script string, sc *Context) Outcome {
	prog, err := goja.Compile("script.js", "(async () => {\n"+script+"\n})()", false)
	if err != nil {
		return failureOutcome(FailureScript, "syntax error: "+err.Error())
	}

	// The require registry gets a loader that refuses everything, so even
	// though the event loop wires require into the runtime, no module can
	// ever be loaded through it.
	registry := require.NewRegistry(require.WithLoader(func(path string) ([]byte, error) {
		return nil, require.ModuleFileDoesNotExistError
	}))
	loop := eventloop.NewEventLoop(
		eventloop.EnableConsole(false),
		eventloop.WithRegistry(registry),
	)
	loop.Start()

	done := make(chan Outcome, 1)

	var vmMu sync.Mutex
	var vm *goja.Runtime

	loop.RunOnLoop(func(r *goja.Runtime) {
		vmMu.Lock()
		vm = r
		vmMu.Unlock()

		if err := bind(r, loop, ctx, sc); err != nil {
			done <- failureOutcome(FailureScript, "sandbox setup: "+err.Error())
			return
		}

		v, err := r.RunProgram(prog)
		if err != nil {
			done <- runErrorOutcome(err)
			return
		}

		settleOnCompletion(r, v, done)
	})

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		loop.Stop()
		return out
	case <-timer.C:
		vmMu.Lock()
		if vm != nil {
			vm.Interrupt(timeoutMessage)
		}
		vmMu.Unlock()
		loop.StopNoWait()
		return failureOutcome(FailureTimeout, timeoutMessage)
	case <-ctx.Done():
		vmMu.Lock()
		if vm != nil {
			vm.Interrupt("execution cancelled")
		}
		vmMu.Unlock()
		loop.StopNoWait()
		return failureOutcome(FailureTimeout, "execution cancelled: "+ctx.Err().Error())
	}
}

// settleOnCompletion attaches handlers to the wrapper promise so the
// outcome is produced exactly once, when the script settles.
func settleOnCompletion(r *goja.Runtime, v goja.Value, done chan<- Outcome) {
	promiseObj := v.ToObject(r)
	then, ok := goja.AssertFunction(promiseObj.Get("then"))
	if !ok {
		// Not a promise; the wrapper did not run as an async function.
		done <- valueOutcome(v.Export(), goja.IsUndefined(v))
		return
	}

	onFulfilled := r.ToValue(func(call goja.FunctionCall) goja.Value {
		res := call.Argument(0)
		done <- valueOutcome(res.Export(), goja.IsUndefined(res))
		return goja.Undefined()
	})
	onRejected := r.ToValue(func(call goja.FunctionCall) goja.Value {
		done <- thrownOutcome(call.Argument(0))
		return goja.Undefined()
	})

	if _, err := then(promiseObj, onFulfilled, onRejected); err != nil {
		done <- runErrorOutcome(err)
	}
}

// runErrorOutcome classifies an error returned by the runtime itself.
func runErrorOutcome(err error) Outcome {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return failureOutcome(FailureTimeout, timeoutMessage)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return thrownOutcome(exception.Value())
	}
	return failureOutcome(FailureScript, err.Error())
}

// thrownOutcome classifies a value thrown (or rejected with) by the
// script. Capability errors keep their taxonomy kind; everything else is
// a script error whose message prefers the value's message property.
func thrownOutcome(v goja.Value) Outcome {
	kind := FailureScript
	message := ""

	if obj, ok := v.(*goja.Object); ok {
		if k := obj.Get("kind"); k != nil && !goja.IsUndefined(k) {
			switch FailureKind(k.String()) {
			case FailureConfiguration, FailureNotFound, FailureRemote:
				kind = FailureKind(k.String())
			}
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			message = m.String()
		}
	}
	if message == "" && v != nil {
		message = v.String()
	}

	return failureOutcome(kind, message)
}

func durationMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
