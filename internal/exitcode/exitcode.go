package exitcode

import (
	"os"

	"github.com/opsdeck/opsdeck-go/internal/platform"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// AuthError indicates an authentication or authorization failure
	AuthError = 5

	// NetworkError indicates a network connectivity issue
	NetworkError = 6
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error's kind onto an exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch platform.KindOf(err) {
	case platform.KindAuthorization, platform.KindRefreshDenied:
		return AuthError
	case platform.KindNetwork:
		return NetworkError
	case platform.KindValidation:
		return UsageError
	default:
		return GeneralError
	}
}
