// Package interpolate renders {field} tokens in a string against a record.
package interpolate

import (
	"regexp"
	"strings"

	"github.com/dataxchange/dxp/pkg/record"
)

var tokenPattern = regexp.MustCompile(`\{(.*?)\}`)

// Transform may rewrite the value resolved for a token before it is
// substituted. token is the text between the braces.
type Transform func(token string, value record.Value) (record.Value, error)

// Tokens returns the distinct tokens of template in order of first
// appearance, without braces.
func Tokens(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		tokens = append(tokens, m[1])
	}
	return tokens
}

// HasTokens reports whether template contains at least one token.
func HasTokens(template string) bool {
	return tokenPattern.MatchString(template)
}

// IsLiteral reports whether a token or source expression is a quoted literal.
func IsLiteral(expr string) bool {
	return strings.HasPrefix(expr, "'")
}

// Literal strips the quotes from a literal expression.
func Literal(expr string) string {
	return strings.Trim(expr, "'")
}

// Interpolate replaces every token in template with its resolved value.
//
// A token starting with a quote is a literal and resolves to its text with the
// quotes removed. Any other token is a field name looked up in values; absent
// or null fields resolve to the empty string. When transform is not nil it is
// called once per distinct token. Every occurrence of a token receives the same
// value. A template without tokens is returned unchanged.
func Interpolate(template string, values *record.Bag, transform Transform) (string, error) {
	tokens := Tokens(template)
	if len(tokens) == 0 {
		return template, nil
	}

	resolved := make(map[string]string, len(tokens))
	for _, token := range tokens {
		var v record.Value
		if IsLiteral(token) {
			v = record.String(Literal(token))
		} else if values != nil {
			v = values.GetOr(token, record.String(""))
		} else {
			v = record.String("")
		}

		if transform != nil {
			var err error
			if v, err = transform(token, v); err != nil {
				return "", err
			}
		}
		resolved[token] = v.String()
	}

	// single pass, so substituted values are never re-scanned for tokens
	return tokenPattern.ReplaceAllStringFunc(template, func(m string) string {
		return resolved[m[1:len(m)-1]]
	}), nil
}

// Render is Interpolate without a transform. It cannot fail.
func Render(template string, values *record.Bag) string {
	out, _ := Interpolate(template, values, nil)
	return out
}
