package helper

import "fmt"

// NewError wraps err with the operation that produced it.
// The wrapped error stays reachable through errors.Is and errors.As.
func NewError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("error in %s: %w", operation, err)
}
