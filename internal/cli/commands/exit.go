package commands

// ExitError carries a specific process exit code out of a command. Cobra
// treats any non-nil error as failure; the root command unwraps this type
// to pick the code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "command failed"
}
