package logging

import "strings"

// Redacted replaces the value of any secret-bearing key.
const Redacted = "[redacted]"

var secretKeys = map[string]bool{
	"pin":           true,
	"password":      true,
	"private_key":   true,
	"token":         true,
	"access_token":  true,
	"id_token":      true,
	"refresh_token": true,
	"assertion":     true,
	"client_secret": true,
	"code":          true,
}

// scrub returns args with the values of secret keys replaced. args is left
// untouched; a copy is made only when something needs redacting.
func scrub(args []any) []any {
	var out []any
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || !secretKeys[strings.ToLower(key)] {
			continue
		}
		if out == nil {
			out = append([]any(nil), args...)
		}
		out[i+1] = Redacted
	}
	if out == nil {
		return args
	}
	return out
}
