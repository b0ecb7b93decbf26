// Package checkdigit implements the Luhn mod-10 check digit used by patient
// identifiers and generated user system ids.
package checkdigit

import (
	"fmt"
	"strings"
)

// Luhn returns the check digit for s. Letters are mapped to their ASCII
// value minus 48, so alphanumeric identifiers are supported.
func Luhn(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty input")
	}
	sum := 0
	double := true
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'A' && c <= 'Z':
			d = int(c) - 48
		case c == ' ' || c == '-':
			continue
		default:
			return 0, fmt.Errorf("invalid character %q", c)
		}
		if double {
			d *= 2
			if d > 9 {
				d = d/10 + d%10
			}
		}
		double = !double
		sum += d
	}
	return (10 - sum%10) % 10, nil
}

// Append returns s with its check digit appended after a dash: "<s>-<digit>".
func Append(s string) (string, error) {
	d, err := Luhn(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", s, d), nil
}

// Valid reports whether the identifier ends in a correct check digit, with or
// without the dash separator.
func Valid(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if len(identifier) < 2 {
		return false
	}
	last := identifier[len(identifier)-1]
	if last < '0' || last > '9' {
		return false
	}
	body := strings.TrimSuffix(identifier[:len(identifier)-1], "-")
	if body == "" {
		return false
	}
	d, err := Luhn(body)
	if err != nil {
		return false
	}
	return d == int(last-'0')
}
