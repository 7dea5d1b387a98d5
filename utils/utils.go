package utils

import "fmt"

// Str renders a JSON-decoded value as a string, empty for nil.
func Str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
