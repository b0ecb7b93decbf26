package checkdigit

import "testing"

func TestLuhn(t *testing.T) {
	cases := map[string]int{
		"7992739871": 3,
		"1":          8,
		"100":        8,
		"12345":      5,
	}
	for in, want := range cases {
		got, err := Luhn(in)
		if err != nil {
			t.Fatalf("Luhn(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Luhn(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestAppendAndValid(t *testing.T) {
	id, err := Append("12345")
	if err != nil {
		t.Fatal(err)
	}
	if id != "12345-5" {
		t.Fatalf("expected 12345-5, got %s", id)
	}
	if !Valid(id) {
		t.Error("expected generated id to be valid")
	}
	if !Valid("123455") {
		t.Error("expected undashed id to be valid")
	}
	if Valid("12345-4") {
		t.Error("expected wrong digit to be rejected")
	}
	if Valid("1") || Valid("") || Valid("ABC-X") {
		t.Error("expected malformed ids to be rejected")
	}
}

func TestLuhn_RejectsSymbols(t *testing.T) {
	if _, err := Luhn("12#4"); err == nil {
		t.Error("expected error for symbol")
	}
	if _, err := Luhn(" "); err == nil {
		t.Error("expected error for blank")
	}
}
