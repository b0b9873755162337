package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/vdoc/internal/row"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (document not found, sync incomplete, ...)
	ExitCommandError = 2 // Command error (bad flags, invalid config, store unreachable)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// storeExit maps a store error to an exit error: caller mistakes and
// unreachable stores are command errors, the rest are failures.
func storeExit(message string, err error) *ExitError {
	switch {
	case row.IsValidation(err), row.IsConnection(err):
		return WrapExitError(ExitCommandError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // row.ErrorCode or "INTERNAL"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. In text
// mode data is printed with its String method when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err through Error and returns it as an exit error.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := "INTERNAL"
	var re *row.Error
	if errors.As(err, &re) {
		code = string(re.Code)
	}
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return storeExit(message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// DocView is the printed form of a row.
type DocView struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	V         int64           `json:"v"`
	Title     string          `json:"title,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
	CreatedBy string          `json:"createdBy,omitempty"`
	UpdatedAt int64           `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
	DeletedAt *int64          `json:"deletedAt,omitempty"`
	DeletedBy string          `json:"deletedBy,omitempty"`
}

func viewOf(r row.VersionedRow) DocView {
	return DocView{
		Type:      r.Type,
		ID:        r.ID,
		V:         r.V,
		Title:     r.Title,
		Data:      r.DataOrEmpty(),
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: r.UpdatedBy,
		DeletedAt: r.DeletedAt,
		DeletedBy: r.DeletedBy,
	}
}

func (d DocView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s v%d", d.Type, d.ID, d.V)
	if d.Title != "" {
		fmt.Fprintf(&b, " %q", d.Title)
	}
	if d.DeletedAt != nil {
		fmt.Fprintf(&b, " (deleted at %d)", *d.DeletedAt)
	}
	fmt.Fprintf(&b, "\n%s", d.Data)
	return b.String()
}

// DocList renders rows as a table in text mode.
type DocList []DocView

func listOf(rows []row.VersionedRow) DocList {
	out := make(DocList, 0, len(rows))
	for _, r := range rows {
		out = append(out, viewOf(r))
	}
	return out
}

func (l DocList) String() string {
	if len(l) == 0 {
		return "(no documents)"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tV\tTITLE\tDELETED\tDATA")
	for _, d := range l {
		deleted := ""
		if d.DeletedAt != nil {
			deleted = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", d.ID, d.V, d.Title, deleted, d.Data)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
