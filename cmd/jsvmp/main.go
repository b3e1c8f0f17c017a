// Command jsvmp is the CLI around the compiler, interpreter, container
// formats and protection layer: compile source to a hex image, run source
// or an image, disassemble a compiled program, and list host builtins.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jsvmp-lang/jsvmp/internal/builtins"
	"github.com/jsvmp-lang/jsvmp/internal/cache"
	"github.com/jsvmp-lang/jsvmp/internal/config"
	"github.com/jsvmp-lang/jsvmp/internal/disasm"
	"github.com/jsvmp-lang/jsvmp/internal/vm"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [args]

Commands:
  compile <file>              compile source to a plain hex image (stdout)
  pack <file>                 alias for compile
  pack-protected <file>       compile source to a protected hex image
  run <file>                  compile and run source
  run-image <file>            run a plain hex image (.jsvimg)
  run-protected <file>        run a protected hex image
  disasm <file>                disassemble source or a plain or protected hex image
  list-builtins [manifest]    list host builtins, optionally from a YAML manifest
`, os.Args[0])
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			os.Exit(1)
		}
	}()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	runID := uuid.New().String()
	cmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch cmd {
	case "compile", "pack":
		err = runCompile(rest, false)
	case "pack-protected":
		err = runCompile(rest, true)
	case "run":
		err = runSource(rest)
	case "run-image":
		err = runImage(rest, false)
	case "run-protected":
		err = runImage(rest, true)
	case "disasm":
		err = runDisasm(rest)
	case "list-builtins":
		err = runListBuiltins(rest)
	case "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Error: %s\n", runID, err)
		os.Exit(1)
	}
}

func readSource(args []string) (string, error) {
	if len(args) == 0 {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return "", fmt.Errorf("usage: <command> <file> or pipe source on stdin")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func runCompile(args []string, protected bool) error {
	cachePath, fileArgs := splitCacheFlag(args)
	source, err := readSource(fileArgs)
	if err != nil {
		return err
	}

	var c *cache.Cache
	if cachePath != "" {
		c, err = cache.Open(cachePath)
		if err != nil {
			return err
		}
		defer c.Close()

		if hexImage, ok, err := c.Lookup(source, protected); err != nil {
			return err
		} else if ok {
			fmt.Println(hexImage)
			return nil
		}
	}

	chunk, err := vm.Compile(source)
	if err != nil {
		return err
	}

	var hexImage string
	if protected {
		hexImage, err = vm.PackProtected(chunk)
	} else {
		hexImage, err = vm.PackPlain(chunk)
	}
	if err != nil {
		return err
	}

	if c != nil {
		if err := c.Store(source, protected, hexImage, cache.Now()); err != nil {
			return err
		}
	}

	fmt.Println(hexImage)
	return nil
}

// splitCacheFlag pulls any "--cache=<path>" or "--cache" (meaning
// config.DefaultCachePath) out of args, returning the remaining arguments
// unchanged.
func splitCacheFlag(args []string) (cachePath string, rest []string) {
	for _, a := range args {
		switch {
		case a == "--cache":
			cachePath = config.DefaultCachePath
		case strings.HasPrefix(a, "--cache="):
			cachePath = strings.TrimPrefix(a, "--cache=")
		default:
			rest = append(rest, a)
		}
	}
	return cachePath, rest
}

func runSource(args []string) error {
	source, err := readSource(args)
	if err != nil {
		return err
	}
	chunk, err := vm.Compile(source)
	if err != nil {
		return err
	}
	_, err = vm.RunVM(chunk, builtins.Registry())
	return err
}

func runImage(args []string, protected bool) error {
	source, err := readSource(args)
	if err != nil {
		return err
	}
	hexImage := strings.TrimSpace(source)
	if protected {
		_, err = vm.RunProtected(hexImage, builtins.Registry())
		return err
	}
	chunk, err := vm.UnpackPlain(hexImage)
	if err != nil {
		return err
	}
	_, err = vm.RunVM(chunk, builtins.Registry())
	return err
}

func runDisasm(args []string) error {
	source, err := readSource(args)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(source)

	var chunk *vm.Chunk
	if looksLikeHex(trimmed) {
		chunk, err = vm.UnpackPlain(trimmed)
		if err != nil {
			chunk, err = vm.UnpackProtected(trimmed)
		}
	} else {
		chunk, err = vm.Compile(source)
	}
	if err != nil {
		return err
	}
	return disasm.Write(os.Stdout, chunk)
}

func looksLikeHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		isHexDigit := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHexDigit {
			return false
		}
	}
	return true
}

func runListBuiltins(args []string) error {
	manifestPath := ""
	if len(args) > 0 {
		manifestPath = args[0]
	}
	docs, err := builtins.Docs(manifestPath)
	if err != nil {
		return err
	}
	for _, d := range builtins.SortedDocs(docs) {
		arity := fmt.Sprintf("%d", d.Arity)
		if d.Arity < 0 {
			arity = "variadic"
		}
		fmt.Printf("%-12s (%s)  %s\n", d.Name, arity, d.Help)
	}
	return nil
}
