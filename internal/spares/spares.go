// Package spares parses the free-text spare-part requests typed by engineers
// ("PART001:2, PART002 x3, PART003") into typed part lines.
package spares

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"refurbline/internal/domain"
)

var timesForm = regexp.MustCompile(`^(\S+)\s+[xX]\s*(\d+)$`)

// SyntaxError reports a token that cannot be read as a part line.
type SyntaxError struct {
	Token  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid spares entry %q: %s", e.Token, e.Reason)
}

// Parse splits a request on commas. Each token is CODE:QTY, CODE xN or a bare
// CODE (quantity 1). Repeated codes are merged case-insensitively, keeping the
// first spelling and order. Blank input yields no lines.
func Parse(text string) ([]domain.PartLine, error) {
	var lines []domain.PartLine
	pos := map[string]int{}
	for _, raw := range strings.Split(text, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		line, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		key := strings.ToUpper(line.Code)
		if i, ok := pos[key]; ok {
			lines[i].Quantity += line.Quantity
			continue
		}
		pos[key] = len(lines)
		lines = append(lines, line)
	}
	return lines, nil
}

func parseToken(token string) (domain.PartLine, error) {
	if code, qty, ok := strings.Cut(token, ":"); ok {
		code = strings.TrimSpace(code)
		if code == "" {
			return domain.PartLine{}, &SyntaxError{Token: token, Reason: "missing part code"}
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n <= 0 {
			return domain.PartLine{}, &SyntaxError{Token: token, Reason: "quantity must be a positive integer"}
		}
		return domain.PartLine{Code: code, Quantity: n}, nil
	}
	if m := timesForm.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return domain.PartLine{}, &SyntaxError{Token: token, Reason: "quantity must be a positive integer"}
		}
		return domain.PartLine{Code: m[1], Quantity: n}, nil
	}
	if strings.ContainsAny(token, " \t") {
		return domain.PartLine{}, &SyntaxError{Token: token, Reason: "expected CODE, CODE:QTY or CODE xN"}
	}
	return domain.PartLine{Code: token, Quantity: 1}, nil
}

// Format renders lines back into the canonical CODE:QTY form.
func Format(lines []domain.PartLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprintf("%s:%d", l.Code, l.Quantity)
	}
	return strings.Join(parts, ", ")
}
