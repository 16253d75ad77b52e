package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/alekspetrov/ghscript/internal/facade"
	"github.com/alekspetrov/ghscript/internal/github"
)

// binder wires the capability context into a runtime. Facade calls run in
// their own goroutines and settle promises back on the event loop, so a
// script may hold several capability calls in flight at once; calls it
// awaits complete in the order awaited.
type binder struct {
	vm   *goja.Runtime
	loop *eventloop.EventLoop
	ctx  context.Context
	fac  *facade.Facade
}

// bind installs the allow-listed scope on the runtime: denied names
// shadowed to undefined, the console shim, sleep, and the facade object.
func bind(vm *goja.Runtime, loop *eventloop.EventLoop, ctx context.Context, sc *Context) error {
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	for _, name := range sc.Denied {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if err := vm.Set("console", consoleObject(vm, sc.Logger)); err != nil {
		return err
	}

	b := &binder{vm: vm, loop: loop, ctx: ctx, fac: sc.Facade}

	if err := vm.Set("sleep", b.sleep); err != nil {
		return err
	}

	return vm.Set(sc.FacadeName, b.facadeObject())
}

// sleep pauses the script for the given milliseconds, as a promise.
func (b *binder) sleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	if ms < 0 {
		ms = 0
	}
	p, resolve, _ := b.vm.NewPromise()
	b.loop.SetTimeout(func(*goja.Runtime) {
		resolve(goja.Undefined())
	}, durationMillis(ms))
	return b.vm.ToValue(p)
}

// async runs fn off-loop and settles the returned promise on the loop.
// If the loop has already been stopped by a timeout the settlement job is
// queued but never runs; the remote call itself is not cancelled.
func (b *binder) async(fn func(ctx context.Context) (any, error)) goja.Value {
	p, resolve, reject := b.vm.NewPromise()
	go func() {
		v, err := fn(b.ctx)
		b.loop.RunOnLoop(func(vm *goja.Runtime) {
			if err != nil {
				reject(errorValue(vm, err))
			} else {
				resolve(v)
			}
		})
	}()
	return b.vm.ToValue(p)
}

// facadeObject exposes one method per permitted remote operation.
func (b *binder) facadeObject() *goja.Object {
	obj := b.vm.NewObject()

	_ = obj.Set("getRepo", func(call goja.FunctionCall) goja.Value {
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.Repo(ctx)
		})
	})

	_ = obj.Set("getLabels", func(call goja.FunctionCall) goja.Value {
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.Labels(ctx)
		})
	})

	_ = obj.Set("getMilestones", func(call goja.FunctionCall) goja.Value {
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.Milestones(ctx)
		})
	})

	_ = obj.Set("getIssueTypes", func(call goja.FunctionCall) goja.Value {
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.IssueTypes(ctx)
		})
	})

	_ = obj.Set("listIssues", func(call goja.FunctionCall) goja.Value {
		var opts facade.ListOptions
		if err := b.exportArg(call, 0, &opts); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.ListIssues(ctx, &opts)
		})
	})

	_ = obj.Set("getIssue", func(call goja.FunctionCall) goja.Value {
		number := int(call.Argument(0).ToInteger())
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.GetIssue(ctx, number)
		})
	})

	_ = obj.Set("searchIssues", func(call goja.FunctionCall) goja.Value {
		query := call.Argument(0).String()
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.SearchIssues(ctx, query)
		})
	})

	_ = obj.Set("createIssue", func(call goja.FunctionCall) goja.Value {
		var opts facade.CreateIssueOptions
		if err := b.exportArg(call, 0, &opts); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.CreateIssue(ctx, &opts)
		})
	})

	_ = obj.Set("updateIssue", func(call goja.FunctionCall) goja.Value {
		number := int(call.Argument(0).ToInteger())
		var opts facade.UpdateIssueOptions
		if err := b.exportArg(call, 1, &opts); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.UpdateIssue(ctx, number, &opts)
		})
	})

	_ = obj.Set("deleteIssue", func(call goja.FunctionCall) goja.Value {
		number := int(call.Argument(0).ToInteger())
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.DeleteIssue(ctx, number)
		})
	})

	_ = obj.Set("addLabels", func(call goja.FunctionCall) goja.Value {
		number := int(call.Argument(0).ToInteger())
		var names []string
		if err := b.exportArg(call, 1, &names); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return nil, b.fac.AddLabels(ctx, number, names)
		})
	})

	_ = obj.Set("removeLabels", func(call goja.FunctionCall) goja.Value {
		number := int(call.Argument(0).ToInteger())
		var names []string
		if err := b.exportArg(call, 1, &names); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return nil, b.fac.RemoveLabels(ctx, number, names)
		})
	})

	_ = obj.Set("createMilestone", func(call goja.FunctionCall) goja.Value {
		var input github.MilestoneInput
		if err := b.exportArg(call, 0, &input); err != nil {
			return b.rejected(err)
		}
		return b.async(func(ctx context.Context) (any, error) {
			return b.fac.CreateMilestone(ctx, &input)
		})
	})

	return obj
}

// exportArg converts the i-th script argument into target. A missing or
// undefined argument leaves target at its zero value.
func (b *binder) exportArg(call goja.FunctionCall, i int, target any) error {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil
	}
	return b.vm.ExportTo(arg, target)
}

// rejected returns an already-rejected promise for argument errors.
func (b *binder) rejected(err error) goja.Value {
	p, _, reject := b.vm.NewPromise()
	reject(errorValue(b.vm, err))
	return b.vm.ToValue(p)
}

// errorValue builds the JS value capability errors are rejected with. It
// carries the taxonomy kind so both catching scripts and the outcome
// classifier can discriminate without parsing messages.
func errorValue(vm *goja.Runtime, err error) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("name", "CapabilityError")
	_ = obj.Set("message", err.Error())
	_ = obj.Set("kind", string(failureKindFor(err)))
	return obj
}

// failureKindFor maps Go errors from the facade onto the failure taxonomy.
func failureKindFor(err error) FailureKind {
	var cfg *github.ConfigurationError
	if errors.As(err, &cfg) {
		return FailureConfiguration
	}
	var nf *github.NotFoundError
	if errors.As(err, &nf) {
		return FailureNotFound
	}
	return FailureRemote
}

// consoleObject routes console.log/info/warn/error to the logger.
func consoleObject(vm *goja.Runtime, logger *slog.Logger) *goja.Object {
	obj := vm.NewObject()
	shim := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, formatValue(arg))
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "), "source", "script")
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", shim(slog.LevelInfo))
	_ = obj.Set("info", shim(slog.LevelInfo))
	_ = obj.Set("warn", shim(slog.LevelWarn))
	_ = obj.Set("error", shim(slog.LevelError))
	return obj
}

// formatValue renders one console argument: primitives via String(),
// objects and arrays as JSON.
func formatValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	exported := v.Export()
	switch exported.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(exported)
		if err == nil {
			return string(raw)
		}
	}
	return v.String()
}
