package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	glua "github.com/yuin/gopher-lua"

	"github.com/pinkfuwa/llumen-go/internal/otelx"
)

// HostFunc is a host-side function exposed to Lua under a dotted name
// ("sql.query", "http.get", ...). args are the already-converted-from-Lua
// JSON arguments; the return value is marshaled back into Lua.
type HostFunc func(ctx context.Context, args json.RawMessage) (any, error)

// RunnerState is the linear command-stack cache entry: the exact sequence
// of commands executed to reach last_state, plus enough to cheaply restart
// from the second-to-last command.
type RunnerState struct {
	CommandStack     []string
	LastState        json.RawMessage
	PenultimateState json.RawMessage
	LastOutput       string
}

// Runner executes Lua command sequences against a cached linear state.
// Rerunning exactly the cached command_stack is a no-op cache hit; a path
// that extends the cached stack, or the stack minus its last command, by one
// command resumes from the saved state; any other path replays from scratch.
type Runner struct {
	cfg        Config
	hosts      map[string]HostFunc
	instanceID string

	mu    sync.Mutex
	state RunnerState
}

// NewRunner creates a Runner with no cached state. instanceID tags every
// span and error this runner produces, so a cache-hit/replay pattern across
// many Execute calls from the same agent turn can be correlated in logs.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg, hosts: make(map[string]HostFunc), instanceID: uuid.NewString()}
}

// RegisterHost installs a host function under a dotted name, e.g.
// RegisterHost("http.get", ...). Call before the first Execute.
func (r *Runner) RegisterHost(name string, fn HostFunc) {
	r.hosts[name] = fn
}

// Execute runs path (a full command stack, not just the next command).
// Returns the final command's output and whether it was served straight
// from cache.
func (r *Runner) Execute(ctx context.Context, path []string) (output string, fromCache bool, err error) {
	_, span := otelx.Start(ctx, "lua.execute")
	span.SetString("lua.instance_id", r.instanceID)
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	if len(path) == 0 {
		return "", false, ErrInvalidPath{}
	}
	if r.cfg.CacheCapacity > 0 && len(path) > r.cfg.CacheCapacity {
		return "", false, ErrCacheCapacityExceeded{Capacity: r.cfg.CacheCapacity}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stringsEqual(path, r.state.CommandStack) {
		return r.state.LastOutput, true, nil
	}

	L, err := r.newVM()
	if err != nil {
		return "", false, err
	}
	defer L.Close()

	// Reuse the prefix of the previous run when path extends it by one
	// command (the common case: the agent appends one REPL call at a
	// time). Anything else replays the whole path from an empty state.
	var restoreFrom json.RawMessage
	startIdx := 0
	if isExtensionByOne(r.state.CommandStack, path) {
		restoreFrom = r.state.LastState
		startIdx = len(r.state.CommandStack)
	} else if isExtensionByOne(prefixMinusOne(r.state.CommandStack), path) {
		restoreFrom = r.state.PenultimateState
		startIdx = len(r.state.CommandStack) - 1
	}

	if err := restoreGlobals(L, restoreFrom); err != nil {
		return "", false, err
	}

	var penultimate json.RawMessage = restoreFrom
	var last json.RawMessage
	var out string

	for i := startIdx; i < len(path); i++ {
		cmd := path[i]
		if i == len(path)-1 {
			penultimate = last
			if penultimate == nil {
				penultimate = restoreFrom
			}
			resetCapturedOutput(L)
		}

		if err := L.DoString(cmd); err != nil {
			return "", false, r.classifyLuaErr(cmd, err)
		}

		last, err = captureGlobals(L)
		if err != nil {
			return "", false, fmt.Errorf("capture state after %q: %w", cmd, err)
		}
	}
	out = topOfStackString(L)

	r.state = RunnerState{
		CommandStack:     append([]string(nil), path...),
		LastState:        last,
		PenultimateState: penultimate,
		LastOutput:       out,
	}

	return out, false, nil
}

// newVM builds a fresh sandboxed VM.
func (r *Runner) newVM() (*glua.LState, error) {
	opts := glua.Options{}
	if r.cfg.MemoryLimitBytes > 0 {
		// gopher-lua has no native byte-accurate memory accounting; the
		// registry size cap is the closest real knob it exposes, so it
		// stands in as an approximate guard (documented in DESIGN.md).
		opts.RegistryMaxSize = int(r.cfg.MemoryLimitBytes / 256)
		opts.RegistryGrowStep = 32
	}
	L := glua.NewState(opts)

	// OpenLibs pulls in the full stdlib; config selectively removes the
	// globals it doesn't want rather than hand-picking individual Open*
	// calls, since base/string/table/math/utf8 aren't independently
	// separable from package loading in gopher-lua's library set.
	L.OpenLibs()
	if r.cfg.Sandboxed || !r.cfg.EnableStdLib {
		L.SetGlobal("os", glua.LNil)
		L.SetGlobal("io", glua.LNil)
		L.SetGlobal("package", glua.LNil)
	}
	if !r.cfg.EnableMathLib {
		L.SetGlobal("math", glua.LNil)
	}
	if !r.cfg.EnableStringLib {
		L.SetGlobal("string", glua.LNil)
	}
	if !r.cfg.EnableTableLib {
		L.SetGlobal("table", glua.LNil)
	}
	if !r.cfg.EnableUTF8Lib {
		L.SetGlobal("utf8", glua.LNil)
	}

	installCapturingPrint(L)
	r.registerHosts(L)
	return L, nil
}

func (r *Runner) registerHosts(L *glua.LState) {
	byNamespace := make(map[string]map[string]HostFunc)
	for full, fn := range r.hosts {
		ns, name, ok := strings.Cut(full, ".")
		if !ok {
			L.SetGlobal(full, L.NewFunction(wrapHost(fn)))
			continue
		}
		if byNamespace[ns] == nil {
			byNamespace[ns] = make(map[string]HostFunc)
		}
		byNamespace[ns][name] = fn
	}
	for ns, fns := range byNamespace {
		tbl := L.NewTable()
		for name, fn := range fns {
			tbl.RawSetString(name, L.NewFunction(wrapHost(fn)))
		}
		L.SetGlobal(ns, tbl)
	}
}

// wrapHost adapts a HostFunc to gopher-lua's calling convention: its single
// argument (expected to be a Lua table of simple types) is converted to
// JSON, the result is pushed back as a Lua value, and any error becomes a
// Lua error the script can pcall around.
func wrapHost(fn HostFunc) glua.LGFunction {
	return func(L *glua.LState) int {
		var args json.RawMessage
		if L.GetTop() > 0 {
			if v, ok := lValueToGo(L.Get(1)); ok {
				args, _ = json.Marshal(v)
			}
		}
		if args == nil {
			args = json.RawMessage(`null`)
		}

		result, err := fn(context.Background(), args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(goToLValue(L, result))
		return 1
	}
}

// classifyLuaErr distinguishes a compile-time syntax error, a registry
// overflow (the approximate stand-in for a memory cap trip; see newVM), and
// a plain runtime execution error. gopher-lua reports both syntax and
// runtime failures through the same error type returned by DoString/DoFile
// (lua.ApiError, tagged by lua.ApiErrorSyntax vs lua.ApiErrorRun); matching
// on the message text as well covers the case where a differently-shaped
// error reaches here (e.g. from a parse step that runs before an ApiError is
// constructed).
func (r *Runner) classifyLuaErr(cmd string, err error) error {
	if apiErr, ok := err.(*glua.ApiError); ok && apiErr.Type == glua.ApiErrorSyntax {
		return ErrSyntax{Command: cmd, Detail: apiErr.Error()}
	}
	msg := err.Error()
	if strings.Contains(msg, "syntax error") {
		return ErrSyntax{Command: cmd, Detail: msg}
	}
	if r.cfg.MemoryLimitBytes > 0 && strings.Contains(strings.ToLower(msg), "registry overflow") {
		return ErrMemoryLimitExceeded{LimitBytes: r.cfg.MemoryLimitBytes}
	}
	return ErrExecution{Command: cmd, Detail: msg}
}

// topOfStackString stringifies whatever DoString left as its last
// "print"-style visible result. The sandbox exposes no notion of an
// explicit return value across a statement boundary, so output is
// whatever the command itself wrote via print(), captured through a
// registered print override; see installCapturingPrint in print.go.
func topOfStackString(L *glua.LState) string {
	return getCapturedOutput(L)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isExtensionByOne(prev, next []string) bool {
	if len(next) != len(prev)+1 {
		return false
	}
	return stringsEqual(prev, next[:len(prev)])
}

func prefixMinusOne(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s[:len(s)-1]
}
