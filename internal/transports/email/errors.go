package email

import "fmt"

// Err wraps configuration errors.
type Err string

func (e Err) Error() string { return fmt.Sprintf("email: %s", string(e)) }
