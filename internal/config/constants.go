// Package config holds the constants shared across the compiler,
// interpreter, and surrounding tooling.
package config

// MaxProgramLength is the largest code stream a Chunk can hold: jump
// targets and constant/function indices are single bytes, so the code
// stream is capped at 255 bytes, the constant/function pools at 256
// entries, and instruction offsets that serve as jump targets top out at 255.
const MaxProgramLength = 255

// MaxConstPoolSize and MaxFuncTableSize are the 1-byte index width limits
// on the constant pool and function table respectively.
const (
	MaxConstPoolSize = 256
	MaxFuncTableSize = 256
)

// StackInitialCapacity is the initial capacity reserved for a fresh
// interpreter's data stack, sized to avoid reallocation for typical
// programs without over-allocating for small ones.
const StackInitialCapacity = 64

// ProtectedMagic0 and ProtectedMagic1 are the first two bytes of a
// protected container.
const (
	ProtectedMagic0 = 'V'
	ProtectedMagic1 = 'M'
)

// ProtectedVersion is the only protected container version this toolchain
// emits and accepts.
const ProtectedVersion = 0x03

// DefaultCachePath is where the compiled-image cache is stored when the
// CLI is given a bare --cache flag rather than --cache=<path>.
const DefaultCachePath = ".jsvmp-cache.sqlite"

// Built-in function names. Behavior lives in internal/builtins; this list
// is the contract between the compiler's global environment and the
// builtins manifest.
const (
	PrintFuncName  = "print"
	MaxFuncName    = "max"
	MinFuncName    = "min"
	LenFuncName    = "len"
	TypeOfFuncName = "typeOf"
	UUIDFuncName   = "uuidNew"
)
