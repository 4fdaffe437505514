// Package script evaluates filter scripts. Every invocation runs in a
// fresh goja runtime so scripts can never observe one another or any prior
// invocation.
package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	goerrors "github.com/goliatone/go-errors"

	"github.com/sumi-social/sumid/core"
)

const defaultScriptTimeout = 5 * time.Second

// Engine implements core.ScriptEngine.
type Engine struct {
	timeout time.Duration
}

func NewEngine() *Engine {
	return &Engine{timeout: defaultScriptTimeout}
}

// Run evaluates source with the item bound to the `post` global. The script's
// final expression is its verdict: an object keeps (and possibly rewrites)
// the item, null or undefined rejects it. The item handed to the runtime is
// a deep copy, so a script cannot mutate caller state.
func (e *Engine) Run(source string, item map[string]any) (map[string]any, error) {
	if e == nil {
		return nil, fmt.Errorf("script: engine is nil")
	}

	vm := goja.New()
	timeout := e.timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("script timed out")
	})
	defer timer.Stop()

	if err := vm.Set("post", core.CloneItem(item)); err != nil {
		return nil, scriptError(err)
	}
	value, err := vm.RunString(source)
	if err != nil {
		return nil, scriptError(err)
	}
	if value == nil || goja.IsNull(value) || goja.IsUndefined(value) {
		return nil, nil
	}
	exported := value.Export()
	result, ok := exported.(map[string]any)
	if !ok {
		return nil, core.NewError(
			fmt.Sprintf("script: result must be an object or null, got %T", exported),
			goerrors.CategoryOperation, core.ErrorScript,
		)
	}
	return result, nil
}

func scriptError(err error) *goerrors.Error {
	return core.WrapError(err, "script: evaluation failed",
		goerrors.CategoryOperation, core.ErrorScript)
}
