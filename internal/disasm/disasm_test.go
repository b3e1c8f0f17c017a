package disasm

import (
	"strings"
	"testing"

	"github.com/jsvmp-lang/jsvmp/internal/vm"
)

func TestLinesDecodesPushConstAndLoadVar(t *testing.T) {
	chunk, err := vm.Compile(`let x = 1; print(x);`)
	if err != nil {
		t.Fatalf("compile: %s", err)
	}
	lines, err := Lines(chunk)
	if err != nil {
		t.Fatalf("Lines: %s", err)
	}
	if len(lines) == 0 {
		t.Fatal("expected at least one decoded line")
	}
	var sawPushConst, sawLoadVar bool
	for _, l := range lines {
		switch l.Mnemonic {
		case "push_const":
			sawPushConst = true
			if l.ConstText != "1" {
				t.Errorf("push_const resolved constant = %q, want %q", l.ConstText, "1")
			}
		case "load_var":
			sawLoadVar = true
			if l.ConstText != "x" {
				t.Errorf("load_var resolved constant = %q, want %q", l.ConstText, "x")
			}
		}
	}
	if !sawPushConst || !sawLoadVar {
		t.Errorf("missing expected opcodes: push_const=%v load_var=%v", sawPushConst, sawLoadVar)
	}
}

func TestWritePlainTextHasNoEscapeCodes(t *testing.T) {
	chunk, err := vm.Compile(`print(1);`)
	if err != nil {
		t.Fatalf("compile: %s", err)
	}
	var buf strings.Builder
	if err := Write(&buf, chunk); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected no ANSI escapes when writing to a non-terminal, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "push_const") {
		t.Errorf("expected disassembly to mention push_const, got %q", buf.String())
	}
}

func TestLinesTruncatedImmediateErrors(t *testing.T) {
	chunk := vm.NewChunk()
	chunk.Code = []byte{byte(vm.OpPushConst)} // opcode present, immediate missing
	if _, err := Lines(chunk); err == nil {
		t.Fatal("expected error decoding truncated instruction, got nil")
	}
}
