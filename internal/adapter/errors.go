package adapter

import "fmt"

// Code is a machine-readable adapter error code.
type Code string

const (
	CodeFileNotFound          Code = "FILE_NOT_FOUND"
	CodeNotAFile              Code = "NOT_A_FILE"
	CodeEmptyFile             Code = "EMPTY_FILE"
	CodeNoData                Code = "NO_DATA"
	CodeEncodingError         Code = "ENCODING_ERROR"
	CodeParseError            Code = "PARSE_ERROR"
	CodeInvalidFormat         Code = "INVALID_FORMAT"
	CodeInvalidJSON           Code = "INVALID_JSON"
	CodeInvalidParquet        Code = "INVALID_PARQUET"
	CodeSchemaInferenceFailed Code = "SCHEMA_INFERENCE_FAILED"
	CodeStreamingNotSupported Code = "STREAMING_NOT_SUPPORTED"
	CodePasswordProtected     Code = "PASSWORD_PROTECTED"
	CodeCorruptFile           Code = "CORRUPT_FILE"
	CodeLargeFile             Code = "LARGE_FILE"
	CodeAdapterNotFound       Code = "ADAPTER_NOT_FOUND"
	CodeDuplicateAdapter      Code = "DUPLICATE_ADAPTER"
	CodeNonTabular            Code = "NON_TABULAR"
	CodeSingleObject          Code = "SINGLE_OBJECT"
	CodeUnknown               Code = "UNKNOWN"
)

// Error is the adapter error envelope. Recoverable errors let a batch
// continue with the next file; non-recoverable ones indicate the requested
// operation can never succeed for this format (e.g. streaming Excel).
type Error struct {
	Code        Code
	Message     string
	FilePath    string
	AdapterID   string
	LineNumber  int
	Details     map[string]any
	Suggestion  string
	Recoverable bool
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.FilePath)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// newError builds a recoverable adapter error.
func newError(code Code, adapterID, path, message string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		FilePath:    path,
		AdapterID:   adapterID,
		Recoverable: true,
	}
}

func (e *Error) withCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) withSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) notRecoverable() *Error {
	e.Recoverable = false
	return e
}
