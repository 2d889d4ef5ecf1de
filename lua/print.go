package lua

import (
	"strings"

	glua "github.com/yuin/gopher-lua"
)

// capturedOutputKey is the registry key under which each command's print()
// output accumulates, so Execute can report it as last_output without the
// sandbox needing any notion of an explicit "return value" per statement.
const capturedOutputKey = "__llumen_captured_output"

// installCapturingPrint overrides the global print() to append to an
// internal buffer instead of writing to stdout, so Execute can
// surface REPL output back to the model.
func installCapturingPrint(L *glua.LState) {
	L.SetGlobal(capturedOutputKey, glua.LString(""))
	L.SetGlobal("print", L.NewFunction(func(L *glua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, glua.LVAsString(L.Get(i)))
		}

		prev := string(L.GetGlobal(capturedOutputKey).(glua.LString))
		line := strings.Join(parts, "\t")
		if prev != "" {
			prev += "\n"
		}
		L.SetGlobal(capturedOutputKey, glua.LString(prev+line))
		return 0
	}))
}

func resetCapturedOutput(L *glua.LState) {
	L.SetGlobal(capturedOutputKey, glua.LString(""))
}

func getCapturedOutput(L *glua.LState) string {
	v := L.GetGlobal(capturedOutputKey)
	s, ok := v.(glua.LString)
	if !ok {
		return ""
	}
	return string(s)
}
