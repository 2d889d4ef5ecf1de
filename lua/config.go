package lua

// Config gates which standard libraries a fresh VM opens, and the resource
// caps enforced around each execution.
type Config struct {
	EnableStdLib    bool
	EnableMathLib   bool
	EnableStringLib bool
	EnableTableLib  bool
	EnableUTF8Lib   bool

	// Sandboxed removes the os, io and package globals regardless of the
	// flags above. The other libraries OpenLibs loads (debug, coroutine,
	// channel) are not removed by it.
	Sandboxed bool

	MemoryLimitBytes uint64 // 0 means no cap
	CacheCapacity    int    // max command_stack length; 0 means unbounded
}

// DefaultConfig matches the research agent's default sandbox: base +
// math/string/table, no os/io, a 64MB memory cap, and a 64-command cache
// capacity. gopher-lua ships no utf8 library, so EnableUTF8Lib has no effect.
func DefaultConfig() Config {
	return Config{
		EnableStdLib:     true,
		EnableMathLib:    true,
		EnableStringLib:  true,
		EnableTableLib:   true,
		EnableUTF8Lib:    true,
		Sandboxed:        true,
		MemoryLimitBytes: 64 << 20,
		CacheCapacity:    64,
	}
}
