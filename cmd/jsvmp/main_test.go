package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// what was written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %s", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()
	w.Close()
	return <-done
}

func TestRunSourcePrintsOutput(t *testing.T) {
	out := captureStdout(t, func() {
		if err := runSource([]string{"testdata/hello.jsv"}); err != nil {
			t.Fatalf("runSource: %s", err)
		}
	})
	if strings.TrimSpace(out) != "5" {
		t.Errorf("stdout = %q, want %q", out, "5\n")
	}
}

func TestCompileThenRunImageRoundTrip(t *testing.T) {
	var hexImage string
	out := captureStdout(t, func() {
		if err := runCompile([]string{"testdata/hello.jsv"}, false); err != nil {
			t.Fatalf("runCompile: %s", err)
		}
	})
	hexImage = strings.TrimSpace(out)
	if hexImage == "" {
		t.Fatal("expected a non-empty hex image")
	}

	imgPath := writeTempFile(t, hexImage)
	out = captureStdout(t, func() {
		if err := runImage([]string{imgPath}, false); err != nil {
			t.Fatalf("runImage: %s", err)
		}
	})
	if strings.TrimSpace(out) != "5" {
		t.Errorf("stdout = %q, want %q", out, "5\n")
	}
}

func TestCompileProtectedThenRunProtectedImageRoundTrip(t *testing.T) {
	var out string
	out = captureStdout(t, func() {
		if err := runCompile([]string{"testdata/hello.jsv"}, true); err != nil {
			t.Fatalf("runCompile protected: %s", err)
		}
	})
	hexImage := strings.TrimSpace(out)
	imgPath := writeTempFile(t, hexImage)

	out = captureStdout(t, func() {
		if err := runImage([]string{imgPath}, true); err != nil {
			t.Fatalf("runImage protected: %s", err)
		}
	})
	if strings.TrimSpace(out) != "5" {
		t.Errorf("stdout = %q, want %q", out, "5\n")
	}
}

func TestRunDisasmListsOpcodes(t *testing.T) {
	out := captureStdout(t, func() {
		if err := runDisasm([]string{"testdata/hello.jsv"}); err != nil {
			t.Fatalf("runDisasm: %s", err)
		}
	})
	if !strings.Contains(out, "push_const") {
		t.Errorf("disasm output = %q, want it to mention push_const", out)
	}
}

func TestRunListBuiltinsListsMax(t *testing.T) {
	out := captureStdout(t, func() {
		if err := runListBuiltins(nil); err != nil {
			t.Fatalf("runListBuiltins: %s", err)
		}
	})
	if !strings.Contains(out, "max") {
		t.Errorf("list-builtins output = %q, want it to mention max", out)
	}
}

func TestLooksLikeHex(t *testing.T) {
	cases := map[string]bool{
		"":     false,
		"ab":   true,
		"abc":  false,
		"abzz": false,
		"DEAD": true,
	}
	for in, want := range cases {
		if got := looksLikeHex(in); got != want {
			t.Errorf("looksLikeHex(%q) = %v, want %v", in, got, want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jsvmp-image-*.hex")
	if err != nil {
		t.Fatalf("CreateTemp: %s", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %s", err)
	}
	return f.Name()
}
