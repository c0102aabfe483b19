package tool

import "fmt"

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateMaxLen checks that value is at most max bytes long.
func ValidateMaxLen(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("'%s' is too long (%d bytes, max %d)", name, len(value), max)
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
// Useful for combining multiple validation checks:
//
//	if err := ValidateAll(RequireField("expression", p.Expression), ValidateMaxLen("expression", p.Expression, 256)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
