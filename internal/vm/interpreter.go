package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jsvmp-lang/jsvmp/internal/config"
)

// callFrame is the saved (return_ip, environment) pair spec.md §3 calls
// the call stack's element.
type callFrame struct {
	returnIP int
	savedEnv *Environment
}

// protection holds the per-image permutation/mask state a protected image
// is decoded against, streaming-decoded one instruction at a time as the
// interpreter fetches it (spec.md §4.6). Nil on a plain execution.
type protection struct {
	invMap [256]Opcode // physical byte -> logical opcode
	have   [256]bool
	seed   uint32
}

// Interp is a single execution of a Chunk. It owns its own data stack,
// call-frame stack, and environment graph (spec.md §5) — nothing is
// shared across Interp instances.
type Interp struct {
	chunk  *Chunk
	stack  []Value
	frames []callFrame
	env    *Environment
	out    io.Writer
	prot   *protection
}

// NewInterp constructs an Interp over chunk with env pre-populated from
// builtins, ready to run from instruction 0.
func NewInterp(chunk *Chunk, builtins map[string]HostFunc) *Interp {
	global := NewEnvironment(nil)
	for name, fn := range builtins {
		global.SetHere(name, Value{Kind: KindHost, Host: fn})
	}
	return &Interp{
		chunk: chunk,
		stack: make([]Value, 0, config.StackInitialCapacity),
		env:   global,
		out:   os.Stdout,
	}
}

// SetOutput redirects where `print` writes, for tests that capture stdout.
func (vm *Interp) SetOutput(w io.Writer) { vm.out = w }

func (vm *Interp) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *Interp) pop() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Value{}, errStackUnderflow
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

// RunVM is the execute API from spec.md §6.
func RunVM(chunk *Chunk, builtins map[string]HostFunc) (Value, error) {
	return NewInterp(chunk, builtins).Run()
}

// fetch decodes the instruction at ip: its logical opcode, its immediate
// (if it has one), and the instruction pointer following it. On a
// protected image the opcode is looked up through the inverse permutation
// and the immediate is unmasked as it is consumed; on a plain image both
// are read verbatim.
func (vm *Interp) fetch(ip int) (op Opcode, hasImm bool, imm byte, nextIP int, err error) {
	code := vm.chunk.Code
	raw := code[ip]

	if vm.prot != nil {
		if !vm.prot.have[raw] {
			return 0, false, 0, ip, fmt.Errorf("Unknown physical opcode: %d at position %d", raw, ip)
		}
		op = vm.prot.invMap[raw]
	} else {
		op = Opcode(raw)
		if op >= opcodeCount {
			return 0, false, 0, ip, fmt.Errorf("%w %d", errBadOpcode, op)
		}
	}

	nextIP = ip + 1
	if hasImmediate(op) {
		if nextIP >= len(code) {
			return 0, false, 0, ip, fmt.Errorf("truncated bytecode at offset %d", nextIP)
		}
		rawImm := code[nextIP]
		if vm.prot != nil {
			imm = rawImm ^ mask(vm.prot.seed, uint32(nextIP))
		} else {
			imm = rawImm
		}
		hasImm = true
		nextIP++
	}
	return op, hasImm, imm, nextIP, nil
}

// Run executes the chunk from offset 0 to completion.
func (vm *Interp) Run() (Value, error) {
	ip := 0
	code := vm.chunk.Code

	for {
		if ip >= len(code) {
			return Undefined, nil
		}
		op, _, imm, nextIP, err := vm.fetch(ip)
		if err != nil {
			return Value{}, err
		}
		ip = nextIP

		switch op {
		case OpPushConst:
			c, err := vm.constAt(int(imm))
			if err != nil {
				return Value{}, err
			}
			vm.push(c)

		case OpLoadVar:
			c, err := vm.constAt(int(imm))
			if err != nil {
				return Value{}, err
			}
			v, err := vm.env.Lookup(c.Str)
			if err != nil {
				return Value{}, err
			}
			vm.push(v)

		case OpStoreVar:
			c, err := vm.constAt(int(imm))
			if err != nil {
				return Value{}, err
			}
			v, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			vm.env.SetHere(c.Str, v)

		case OpAssignVar:
			c, err := vm.constAt(int(imm))
			if err != nil {
				return Value{}, err
			}
			v, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			if err := vm.env.Assign(c.Str, v); err != nil {
				return Value{}, err
			}

		case OpAdd, OpSub, OpMul, OpDiv:
			if err := vm.binArith(op); err != nil {
				return Value{}, err
			}

		case OpEq, OpNe:
			if err := vm.binEquality(op); err != nil {
				return Value{}, err
			}

		case OpLt, OpGt, OpLe, OpGe:
			if err := vm.binOrder(op); err != nil {
				return Value{}, err
			}

		case OpPrint:
			v, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			fmt.Fprintln(vm.out, stringify(v))

		case OpPop:
			if _, err := vm.pop(); err != nil {
				return Value{}, err
			}

		case OpMakeClos:
			if int(imm) >= len(vm.chunk.Funcs) {
				return Value{}, fmt.Errorf("invalid function index %d", imm)
			}
			fn := &vm.chunk.Funcs[imm]
			vm.push(Value{Kind: KindClosure, Closure: &Closure{Fn: fn, Env: vm.env}})

		case OpCall:
			newIP, err := vm.call(int(imm), ip)
			if err != nil {
				return Value{}, err
			}
			ip = newIP

		case OpRet:
			val, halted, err := vm.ret()
			if err != nil {
				return Value{}, err
			}
			if halted {
				return val, nil
			}
			ip = vm.frames[len(vm.frames)-1].returnIP
			vm.env = vm.frames[len(vm.frames)-1].savedEnv
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.push(val)

		case OpJmp:
			ip = int(imm)

		case OpJmpIfFalse:
			v, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			if !v.IsTruthy() {
				ip = int(imm)
			}

		case OpHalt:
			if len(vm.stack) > 0 {
				v, _ := vm.pop()
				return v, nil
			}
			return Undefined, nil

		default:
			return Value{}, fmt.Errorf("%w %d", errBadOpcode, op)
		}
	}
}

func (vm *Interp) constAt(idx int) (Value, error) {
	if idx < 0 || idx >= len(vm.chunk.Consts) {
		return Value{}, fmt.Errorf("invalid constant index %d", idx)
	}
	return vm.chunk.Consts[idx], nil
}

func (vm *Interp) binArith(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if op == OpAdd && (a.Kind == KindString || b.Kind == KindString) {
		vm.push(Str(stringify(a) + stringify(b)))
		return nil
	}
	x, y := numericValue(a), numericValue(b)
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	}
	vm.push(Num(r))
	return nil
}

// binEquality implements loose equality per the operand-order resolution
// recorded in SPEC_FULL.md: when exactly one operand is a string, the
// other is coerced to its string form and both sides compare as strings.
func (vm *Interp) binEquality(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	var eq bool
	switch {
	case a.Kind == KindNumber && b.Kind == KindNumber:
		eq = a.Num == b.Num
	case a.Kind == KindString && b.Kind == KindString:
		eq = a.Str == b.Str
	case a.Kind == KindString || b.Kind == KindString:
		eq = stringify(a) == stringify(b)
	case a.Kind == KindBool && b.Kind == KindBool:
		eq = a.Bool == b.Bool
	case a.Kind == KindUndefined && b.Kind == KindUndefined:
		eq = true
	default:
		eq = numericValue(a) == numericValue(b)
	}
	if op == OpNe {
		eq = !eq
	}
	vm.push(Bool(eq))
	return nil
}

func (vm *Interp) binOrder(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	var cmp int
	if a.Kind == KindString && b.Kind == KindString {
		switch {
		case a.Str < b.Str:
			cmp = -1
		case a.Str > b.Str:
			cmp = 1
		}
	} else {
		x, y := numericValue(a), numericValue(b)
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			vm.push(Bool(false))
			return nil
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	}
	var r bool
	switch op {
	case OpLt:
		r = cmp < 0
	case OpGt:
		r = cmp > 0
	case OpLe:
		r = cmp <= 0
	case OpGe:
		r = cmp >= 0
	}
	vm.push(Bool(r))
	return nil
}

// call pops callee and its n arguments, dispatches to a host function or
// pushes a new call frame for a closure, and returns the instruction
// pointer execution should continue at.
func (vm *Interp) call(n int, nextIP int) (int, error) {
	if n > len(vm.stack)-1 {
		return 0, errStackUnderflow
	}
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	callee, err := vm.pop()
	if err != nil {
		return 0, err
	}

	switch callee.Kind {
	case KindHost:
		ret, err := callee.Host(args)
		if err != nil {
			return 0, err
		}
		vm.push(ret)
		return nextIP, nil

	case KindClosure:
		fn := callee.Closure.Fn
		if n != fn.Arity {
			return 0, fmt.Errorf("arity mismatch: expect %d, got %d", fn.Arity, n)
		}
		vm.frames = append(vm.frames, callFrame{returnIP: nextIP, savedEnv: vm.env})
		newEnv := NewEnvironment(callee.Closure.Env)
		for i, nameIdx := range fn.ParamNameIdx {
			c, err := vm.constAt(nameIdx)
			if err != nil {
				return 0, err
			}
			newEnv.SetHere(c.Str, args[i])
		}
		vm.env = newEnv
		return fn.Entry, nil

	default:
		return 0, errNotCallable
	}
}

// ret pops the return value (or synthesizes undefined) and reports
// whether the call stack was empty, in which case execution halts with
// that value.
func (vm *Interp) ret() (Value, bool, error) {
	var val Value
	if len(vm.stack) > 0 {
		v, err := vm.pop()
		if err != nil {
			return Value{}, false, err
		}
		val = v
	} else {
		val = Undefined
	}
	return val, len(vm.frames) == 0, nil
}
