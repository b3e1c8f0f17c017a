// Package vm_test runs the stdlib/stdout golden scenarios from spec.md §8
// against both the plain and protected execution paths, stored as
// golang.org/x/tools/txtar archives so each fixture bundles its source and
// expected output as separate named files.
package vm_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/jsvmp-lang/jsvmp/internal/builtins"
	"github.com/jsvmp-lang/jsvmp/internal/vm"
)

func archiveFile(a *txtar.Archive, name string) (string, bool) {
	for _, f := range a.Files {
		if f.Name == name {
			return string(f.Data), true
		}
	}
	return "", false
}

// TestGoldenScenarios implements spec.md §8 property 1: the plain and
// protected execution paths of a given program must produce identical
// print output.
func TestGoldenScenarios(t *testing.T) {
	matches, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("no testdata fixtures found")
	}

	for _, path := range matches {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			a, err := txtar.ParseFile(path)
			if err != nil {
				t.Fatalf("parsing %s: %s", path, err)
			}
			source, ok := archiveFile(a, "source")
			if !ok {
				t.Fatalf("%s: missing \"source\" file", path)
			}
			wantOut, ok := archiveFile(a, "stdout")
			if !ok {
				t.Fatalf("%s: missing \"stdout\" file", path)
			}
			wantOut = strings.TrimSuffix(wantOut, "\n") + "\n"

			var hostBuiltins map[string]vm.HostFunc
			if needed, ok := archiveFile(a, "builtins"); ok {
				hostBuiltins = selectBuiltins(strings.Fields(needed))
			}

			chunk, err := vm.Compile(source)
			if err != nil {
				t.Fatalf("compile: %s", err)
			}

			plainInterp := vm.NewInterp(chunk, hostBuiltins)
			var plainOut bytes.Buffer
			plainInterp.SetOutput(&plainOut)
			if _, err := plainInterp.Run(); err != nil {
				t.Fatalf("plain run: %s", err)
			}
			if plainOut.String() != wantOut {
				t.Errorf("plain stdout = %q, want %q", plainOut.String(), wantOut)
			}

			hexImage, err := vm.PackProtected(chunk)
			if err != nil {
				t.Fatalf("pack protected: %s", err)
			}
			// Protected execution writes to os.Stdout; capture it for
			// comparison the same way RunVM's caller would have to.
			protectedOut, err := captureProtectedStdout(hexImage, hostBuiltins)
			if err != nil {
				t.Fatalf("run protected: %s", err)
			}
			if protectedOut != wantOut {
				t.Errorf("protected stdout = %q, want %q", protectedOut, wantOut)
			}
		})
	}
}

// captureProtectedStdout runs RunProtected and captures what it writes to
// os.Stdout — RunProtected has no output-redirection hook of its own, by
// design: spec.md §6 fixes run_protected's signature to (hex, builtins).
func captureProtectedStdout(hexImage string, hostBuiltins map[string]vm.HostFunc) (string, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	runErr := make(chan error, 1)
	out := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		out <- buf.String()
	}()

	_, err = vm.RunProtected(hexImage, hostBuiltins)
	w.Close()
	runErr <- err
	return <-out, <-runErr
}

func selectBuiltins(names []string) map[string]vm.HostFunc {
	all := builtins.Registry()
	out := make(map[string]vm.HostFunc, len(names))
	for _, n := range names {
		if fn, ok := all[n]; ok {
			out[n] = fn
		}
	}
	return out
}
