package expr

import "testing"

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want float64
	}{
		{"add", "1 + 2", 3},
		{"precedence", "2 + 3 * 4", 14},
		{"parens", "(2 + 3) * 4", 20},
		{"unary minus", "-5 + 10", 5},
		{"division", "10 / 4", 2.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Eval(c.src, nil)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", c.src, err)
			}
			if got != c.want {
				t.Errorf("Eval(%q) = %v, want %v", c.src, got, c.want)
			}
		})
	}
}

func TestEvalComparisonAndBoolean(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want bool
	}{
		{"gt true", "5 > 3", true},
		{"gt false", "3 > 5", false},
		{"and", "1 AND 1", true},
		{"and false", "1 AND 0", false},
		{"or", "0 OR 1", true},
		{"not", "NOT 0", true},
		{"compound", "(tankLevel > 50) AND NOT (valveOpen == 1)", true},
	}
	vars := func(name string) (float64, bool) {
		switch name {
		case "tankLevel":
			return 75, true
		case "valveOpen":
			return 0, true
		}
		return 0, false
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Eval(c.src, vars)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", c.src, err)
			}
			if Truthy(got) != c.want {
				t.Errorf("Eval(%q) truthy = %v, want %v", c.src, Truthy(got), c.want)
			}
		})
	}
}

func TestEvalFunctions(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want float64
	}{
		{"abs", "abs(-5)", 5},
		{"min", "min(3, 7)", 3},
		{"max", "max(3, 7)", 7},
		{"round", "round(2.6)", 3},
		{"sqrt", "sqrt(16)", 4},
		{"nested", "max(abs(-2), min(10, 4))", 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Eval(c.src, nil)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", c.src, err)
			}
			if got != c.want {
				t.Errorf("Eval(%q) = %v, want %v", c.src, got, c.want)
			}
		})
	}
}

func TestEvalMissingIdentifierDefaultsToZero(t *testing.T) {
	got, err := Eval("missingVar + 1", func(string) (float64, bool) { return 0, false })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("got %v, want 1 (missing identifier should default to 0)", got)
	}
}

func TestEvalErrors(t *testing.T) {
	cases := []string{
		"1 +",
		"(1 + 2",
		"1 / 0",
		"unknownFn(1)",
		"1 $ 2",
	}
	for _, src := range cases {
		if _, err := Eval(src, nil); err == nil {
			t.Errorf("Eval(%q) expected error, got nil", src)
		}
	}
}
