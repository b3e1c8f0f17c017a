package vm

import (
	"strings"
	"testing"
)

// run compiles and executes source with no builtins, capturing stdout.
func run(t *testing.T, source string) (Value, string) {
	t.Helper()
	chunk, err := Compile(source)
	if err != nil {
		t.Fatalf("compile error: %s", err)
	}
	interp := NewInterp(chunk, nil)
	var out strings.Builder
	interp.SetOutput(&out)
	v, err := interp.Run()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return v, out.String()
}

func runWithBuiltins(t *testing.T, source string, builtins map[string]HostFunc) (Value, string) {
	t.Helper()
	chunk, err := Compile(source)
	if err != nil {
		t.Fatalf("compile error: %s", err)
	}
	interp := NewInterp(chunk, builtins)
	var out strings.Builder
	interp.SetOutput(&out)
	v, err := interp.Run()
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return v, out.String()
}

func runExpectError(t *testing.T, source string) string {
	t.Helper()
	chunk, err := Compile(source)
	if err != nil {
		t.Fatalf("compile error (expected runtime error): %s", err)
	}
	_, err = RunVM(chunk, nil)
	if err == nil {
		t.Fatalf("expected runtime error, program ran successfully")
	}
	return err.Error()
}

func TestArithmeticAndPrint(t *testing.T) {
	_, out := run(t, `print(1 + 2 * 3);`)
	if out != "7\n" {
		t.Errorf("output = %q, want %q", out, "7\n")
	}
}

func TestStringConcatenation(t *testing.T) {
	_, out := run(t, `print("a" + "b" + "c");`)
	if out != "abc\n" {
		t.Errorf("output = %q, want %q", out, "abc\n")
	}
}

func TestNumberPlusStringCoercion(t *testing.T) {
	_, out := run(t, `print(1 + "x");`)
	if out != "1x\n" {
		t.Errorf("output = %q, want %q", out, "1x\n")
	}
}

func TestLetAndVariables(t *testing.T) {
	_, out := run(t, `
		let x = 10;
		let y = 20;
		print(x + y);
	`)
	if out != "30\n" {
		t.Errorf("output = %q, want %q", out, "30\n")
	}
}

func TestIfElse(t *testing.T) {
	src := `
		let x = 5;
		if (x > 3) {
			print("big");
		} else {
			print("small");
		}
	`
	_, out := run(t, src)
	if out != "big\n" {
		t.Errorf("output = %q, want %q", out, "big\n")
	}
}

func TestWhileLoop(t *testing.T) {
	src := `
		let i = 0;
		let sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
		print(sum);
	`
	_, out := run(t, src)
	if out != "10\n" {
		t.Errorf("output = %q, want %q", out, "10\n")
	}
}

func TestFactorialRecursion(t *testing.T) {
	src := `
		function fact(n) {
			if (n <= 1) {
				return 1;
			}
			return n * fact(n - 1);
		}
		print(fact(5));
	`
	_, out := run(t, src)
	if out != "120\n" {
		t.Errorf("output = %q, want %q", out, "120\n")
	}
}

func TestClosureCountersObserveCapturedMutation(t *testing.T) {
	src := `
		function mk(s) {
			let c = s;
			function step() {
				c = c + 1;
				return c;
			}
			return step;
		}
		let a = mk(0);
		let b = mk(100);
		print(a());
		print(a());
		print(b());
		print(b());
	`
	_, out := run(t, src)
	want := "1\n2\n101\n102\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestNestedClosureCapturesOuterLocalsAndTopLevel(t *testing.T) {
	src := `let a=10; function o(x){let y=5; function i(z){return x+y+z+a;} return i(7);} print(o(3));`
	_, out := run(t, src)
	if out != "25\n" {
		t.Errorf("output = %q, want %q", out, "25\n")
	}
}

func TestMaxBuiltinWithExpressionArgs(t *testing.T) {
	builtins := map[string]HostFunc{
		"max": func(args []Value) (Value, error) {
			best := args[0].Num
			for _, a := range args[1:] {
				if a.Num > best {
					best = a.Num
				}
			}
			return Num(best), nil
		},
	}
	src := `let a=2; function f(b){return b*10;} print( max(f(3), a+100) );`
	_, out := runWithBuiltins(t, src, builtins)
	if out != "102\n" {
		t.Errorf("output = %q, want %q", out, "102\n")
	}
}

func TestStringConcatWithVariableAndNumber(t *testing.T) {
	src := `let msg="Hello"; function g(n){return msg+" "+n+"!";} print(g("JSVMP"));`
	_, out := run(t, src)
	if out != "Hello JSVMP!\n" {
		t.Errorf("output = %q, want %q", out, "Hello JSVMP!\n")
	}
}

func TestFactorialScenario(t *testing.T) {
	src := `function fact(n){if (n==0){return 1;} else {return n*fact(n-1);}} print(fact(5));`
	_, out := run(t, src)
	if out != "120\n" {
		t.Errorf("output = %q, want %q", out, "120\n")
	}
}

func TestAssignToUndefinedVariableErrors(t *testing.T) {
	msg := runExpectError(t, `x = 1;`)
	if msg != "Undefined variable: x" {
		t.Errorf("error = %q, want %q", msg, "Undefined variable: x")
	}
}

func TestHostBuiltinMax(t *testing.T) {
	builtins := map[string]HostFunc{
		"max": func(args []Value) (Value, error) {
			best := args[0].Num
			for _, a := range args[1:] {
				if a.Num > best {
					best = a.Num
				}
			}
			return Num(best), nil
		},
	}
	_, out := runWithBuiltins(t, `print(max(3, 7, 2));`, builtins)
	if out != "7\n" {
		t.Errorf("output = %q, want %q", out, "7\n")
	}
}

func TestUnaryMinus(t *testing.T) {
	_, out := run(t, `let x = 5; print(-x + 2);`)
	if out != "-3\n" {
		t.Errorf("output = %q, want %q", out, "-3\n")
	}
}

func TestUndefinedVariableError(t *testing.T) {
	msg := runExpectError(t, `print(missing);`)
	if msg != "Undefined variable: missing" {
		t.Errorf("error = %q, want %q", msg, "Undefined variable: missing")
	}
}

func TestNotCallableError(t *testing.T) {
	msg := runExpectError(t, `let x = 5; x();`)
	if !strings.Contains(msg, "Not callable") {
		t.Errorf("error = %q, want substring %q", msg, "Not callable")
	}
}

func TestComparisonAcrossTypes(t *testing.T) {
	_, out := run(t, `print("abc" < "abd"); print(1 < 2); print(2 <= 2);`)
	want := "true\ntrue\ntrue\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}
