// Package utils provides utility functions for moor CLI commands.
package utils

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/domain"
)

// LocalWorkers marks commands that wait on queue jobs. With the in-memory queue the root
// command runs a worker pool in-process for them.
const LocalWorkers = "moor/local-workers"

// CommandError is an operation failure already phrased for the user
type CommandError struct {
	Operation string
	Err       error
}

func (e *CommandError) Error() string {
	return FormatCommandError(e.Operation, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Fail logs a failed operation and wraps it for display
func Fail(operation string, err error, context ...any) error {
	slog.Error("Command failed", append([]any{"operation", operation, "error", err}, context...)...)
	return &CommandError{Operation: operation, Err: err}
}

// HandleCommandError prints the error returned by a command and exits
func HandleCommandError(err error) {
	msg := err.Error()
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		msg = "Error: " + msg
	}
	fmt.Fprint(os.Stderr, output.PrintMessage(output.Error, "%s", msg)) // nolint:errcheck
	os.Exit(1)
}

// FormatCommandError renders err the way the CLI shows it to the user
func FormatCommandError(operation string, err error) string {
	return fmt.Sprintf("Error: %s failed: %s", operation, domain.FormatErrorForUser(err))
}

// ParseID parses a command argument as the id of the named resource
func ParseID(resource, input string) (uuid.UUID, error) {
	id, err := uuid.Parse(input)
	if err != nil {
		slog.Warn("Invalid UUID provided", "resource", resource, "input", input)
		return uuid.Nil, domain.Validation("parse_id", "invalid %s ID '%s'. Must be a valid UUID.", resource, input)
	}
	return id, nil
}

// Caller is the identity CLI commands act as
func Caller() domain.CallerMetadata {
	user := "local"
	if cfg := app.GetConfig(); cfg != nil && cfg.User != "" {
		user = cfg.User
	}
	return domain.CallerMetadata{UserID: user, RequestID: "cli-" + uuid.NewString()[:8]}
}
