package sandbox

import (
	"log/slog"

	"github.com/alekspetrov/ghscript/internal/facade"
)

// defaultFacadeName is the reserved global the facade is bound to.
const defaultFacadeName = "github"

// deniedGlobals are ambient capabilities explicitly bound to undefined in
// every execution scope. The goja runtime has no host I/O to begin with;
// shadowing these names on top makes the allow-list discipline visible
// and keeps an enclosing-scope lookup from ever resolving them.
var deniedGlobals = []string{
	"fetch",
	"XMLHttpRequest",
	"WebSocket",
	"process",
	"require",
	"module",
	"exports",
	"Deno",
	"Bun",
}

// Context is the fixed set of names visible inside the sandbox: the
// facade under its reserved name, a console shim, and the timer
// primitives the event loop provides. Construct one per execution; it is
// never reused or mutated after construction.
type Context struct {
	FacadeName string
	Facade     *facade.Facade
	Logger     *slog.Logger
	Denied     []string
}

// NewContext builds the capability context for one execution.
func NewContext(f *facade.Facade, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		FacadeName: defaultFacadeName,
		Facade:     f,
		Logger:     logger,
		Denied:     deniedGlobals,
	}
}
