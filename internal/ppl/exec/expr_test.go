package exec

import "testing"

func TestRenderArithmetic(t *testing.T) {
	cols := map[string]bool{"price": true, "qty": true}

	cases := []struct {
		name string
		expr string
		want string
	}{
		{"simple add", "price + 1", `("price" + 1)`},
		{"precedence", "price + qty * 2", `("price" + ("qty" * 2))`},
		{"parens override precedence", "(price + qty) * 2", `(("price" + "qty") * 2)`},
		{"unary minus", "-price", `(-"price")`},
		{"division", "price / qty", `("price" / "qty")`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := renderArithmetic(c.expr, cols)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Errorf("renderArithmetic(%q) = %q, want %q", c.expr, got, c.want)
			}
		})
	}
}

func TestRenderArithmeticUnknownColumn(t *testing.T) {
	cols := map[string]bool{"price": true}
	if _, err := renderArithmetic("price + missing", cols); err == nil {
		t.Error("expected error for unknown column, got nil")
	}
}

func TestRenderArithmeticMissingParen(t *testing.T) {
	cols := map[string]bool{"price": true}
	if _, err := renderArithmetic("(price + 1", cols); err == nil {
		t.Error("expected error for unclosed paren, got nil")
	}
}

func TestRenderArithmeticTrailingJunk(t *testing.T) {
	cols := map[string]bool{"price": true}
	if _, err := renderArithmetic("price + 1)", cols); err == nil {
		t.Error("expected error for trailing unmatched token, got nil")
	}
}

func TestLooksNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"42", true},
		{"-42", true},
		{"3.14", true},
		{"", false},
		{"abc", false},
		{"4-2", false},
	}
	for _, c := range cases {
		if got := looksNumeric(c.in); got != c.want {
			t.Errorf("looksNumeric(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestStripQuotesLocal(t *testing.T) {
	if got := stripQuotesLocal(`"hi"`); got != "hi" {
		t.Errorf("stripQuotesLocal = %q, want hi", got)
	}
	if got := stripQuotesLocal("hi"); got != "hi" {
		t.Errorf("stripQuotesLocal = %q, want hi", got)
	}
}
