// Package disasm renders a compiled Chunk as a human-readable listing:
// offset, opcode mnemonic, decoded immediate, and the resolved constant
// for instructions that reference the constant pool.
package disasm

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/jsvmp-lang/jsvmp/internal/vm"
)

const (
	colorReset  = "\x1b[0m"
	colorOpcode = "\x1b[36m"
	colorOffset = "\x1b[90m"
	colorConst  = "\x1b[33m"
)

// Write prints chunk's code stream to w, one instruction per line. When w
// is a file attached to a terminal, opcode
// mnemonics are colorized; otherwise the listing is plain text, matching
// the teacher's own isatty-gated terminal output convention.
func Write(w io.Writer, chunk *vm.Chunk) error {
	color := false
	if f, ok := w.(fileWriter); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return write(w, chunk, color)
}

// fileWriter is satisfied by *os.File; kept as a narrow local interface so
// disasm doesn't have to import os just to type-assert against it.
type fileWriter interface {
	io.Writer
	Fd() uintptr
}

func write(w io.Writer, chunk *vm.Chunk, color bool) error {
	lines, err := Lines(chunk)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if color {
			if _, err := fmt.Fprintf(w, "%s%04d%s  %s%-14s%s%s\n",
				colorOffset, l.Offset, colorReset,
				colorOpcode, l.Mnemonic, colorReset,
				formatOperand(l, true)); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%04d  %-14s%s\n", l.Offset, l.Mnemonic, formatOperand(l, false)); err != nil {
			return err
		}
	}
	return nil
}

func formatOperand(l Line, color bool) string {
	if !l.HasImmediate {
		return ""
	}
	if l.ConstText == "" {
		return strconv.Itoa(l.Immediate)
	}
	if color {
		return fmt.Sprintf("%d  %s%s%s", l.Immediate, colorConst, l.ConstText, colorReset)
	}
	return fmt.Sprintf("%d  %s", l.Immediate, l.ConstText)
}

// Line is one disassembled instruction.
type Line struct {
	Offset       int
	Mnemonic     string
	HasImmediate bool
	Immediate    int
	// ConstText is the resolved constant pool entry's textual form, for
	// push_const/load_var/store_var/assign_var; empty otherwise.
	ConstText string
}

// Lines decodes chunk's code stream into a sequence of Line records,
// without performing any permutation or mask decoding — it operates on
// plain (or already-unpacked) chunks only. Disassembling a still-protected
// image requires unpacking it first via vm.UnpackProtected.
func Lines(chunk *vm.Chunk) ([]Line, error) {
	var out []Line
	code := chunk.Code
	i := 0
	for i < len(code) {
		op := vm.Opcode(code[i])
		mnemonic := op.Name()
		offset := i
		i++

		line := Line{Offset: offset, Mnemonic: mnemonic}
		if op.HasImmediateOperand() {
			if i >= len(code) {
				return nil, fmt.Errorf("truncated bytecode at offset %d", i)
			}
			imm := int(code[i])
			line.HasImmediate = true
			line.Immediate = imm
			line.ConstText = constTextFor(chunk, op, imm)
			i++
		}
		out = append(out, line)
	}
	return out, nil
}

func constTextFor(chunk *vm.Chunk, op vm.Opcode, idx int) string {
	if !op.ReferencesConstPool() {
		return ""
	}
	if idx < 0 || idx >= len(chunk.Consts) {
		return ""
	}
	c := chunk.Consts[idx]
	switch c.Kind {
	case vm.KindString:
		return c.Str
	case vm.KindNumber:
		return strconv.FormatFloat(c.Num, 'g', -1, 64)
	default:
		return c.TypeName()
	}
}
