package assert

import (
	"fmt"
)

// NotEmpty panics if value is the empty string. Used for invariants that
// indicate a programming error rather than a runtime condition.
func NotEmpty(value, what string) {
	if value == "" {
		msg := fmt.Sprintf("assert.NotEmpty %s is empty", what)
		panic(msg)
	}
}

// Positive panics if value is not strictly positive.
func Positive(value int, what string) {
	if value <= 0 {
		msg := fmt.Sprintf("assert.Positive %s expected > 0 actual %d", what, value)
		panic(msg)
	}
}
