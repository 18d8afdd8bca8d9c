// Package exception provides the error taxonomy of the ingestion pipeline.
// Every error raised by a pipeline component is a PipelineError carrying a Kind,
// which decides whether the orchestrator retries it, absorbs it or terminates the run.
package exception

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind classifies a PipelineError.
type Kind string

const (
	// KindConnection marks a bus or store that is unreachable at startup. Fatal.
	KindConnection Kind = "ConnectionError"
	// KindTransientIO marks a mid-run network failure. Retried with bounded backoff.
	KindTransientIO Kind = "TransientIOError"
	// KindMalformedPayload marks a payload whose encoding cannot be parsed. Per record.
	KindMalformedPayload Kind = "MalformedPayload"
	// KindSchemaViolation marks a payload with a missing or mistyped required field. Per record.
	KindSchemaViolation Kind = "SchemaViolation"
	// KindIncompatibleTarget marks an existing table whose layout differs from the schema. Fatal.
	KindIncompatibleTarget Kind = "IncompatibleExistingTarget"
	// KindCheckpointWrite marks a failed checkpoint persist. Retried in place.
	KindCheckpointWrite Kind = "CheckpointWriteFailure"
	// KindConfiguration marks invalid configuration. Fatal.
	KindConfiguration Kind = "ConfigurationError"
	// KindInternal is used for errors that fit no other kind.
	KindInternal Kind = "InternalError"
)

// Sentinel errors, one per kind, so callers can use errors.Is.
var (
	ErrConnection         = errors.New(string(KindConnection))
	ErrTransientIO        = errors.New(string(KindTransientIO))
	ErrMalformedPayload   = errors.New(string(KindMalformedPayload))
	ErrSchemaViolation    = errors.New(string(KindSchemaViolation))
	ErrIncompatibleTarget = errors.New(string(KindIncompatibleTarget))
	ErrCheckpointWrite    = errors.New(string(KindCheckpointWrite))
	ErrConfiguration      = errors.New(string(KindConfiguration))
)

var kindSentinels = map[Kind]error{
	KindConnection:         ErrConnection,
	KindTransientIO:        ErrTransientIO,
	KindMalformedPayload:   ErrMalformedPayload,
	KindSchemaViolation:    ErrSchemaViolation,
	KindIncompatibleTarget: ErrIncompatibleTarget,
	KindCheckpointWrite:    ErrCheckpointWrite,
	KindConfiguration:      ErrConfiguration,
}

// errorRegistry maps error names that may appear in configuration (retryable lists)
// to concrete error instances used with errors.Is.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a named error prototype.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// PipelineError is the error type shared by all pipeline components.
type PipelineError struct {
	// Module is the component that raised the error (e.g. "source", "sink", "checkpoint", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// Kind is the taxonomy entry of the error.
	Kind Kind
	// Field names the offending schema field for SchemaViolation errors.
	Field string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewPipelineError creates a PipelineError of KindInternal with explicit flags.
func NewPipelineError(module, message string, originalErr error, isSkippable, isRetryable bool) *PipelineError {
	return &PipelineError{
		Module:      module,
		Message:     message,
		Kind:        KindInternal,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewPipelineErrorf creates a PipelineError using a format string.
// Optional trailing arguments are extracted from the end of a in the order
// [originalErr error], [isRetryable bool], [isSkippable bool]; the rest feed fmt.Sprintf.
//
// NewPipelineErrorf("sink", "write of %d rows failed", 10, true, err)
// -> message "write of 10 rows failed", retryable, originalErr err
func NewPipelineErrorf(module, format string, a ...interface{}) *PipelineError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &PipelineError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		Kind:        KindInternal,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

func newKindError(kind Kind, module, message string, originalErr error, isSkippable, isRetryable bool) *PipelineError {
	e := NewPipelineError(module, message, originalErr, isSkippable, isRetryable)
	e.Kind = kind
	return e
}

// NewConnectionError reports a bus or store that could not be reached at startup.
func NewConnectionError(module, message string, originalErr error) *PipelineError {
	return newKindError(KindConnection, module, message, originalErr, false, false)
}

// NewTransientIOError reports a recoverable I/O failure.
func NewTransientIOError(module, message string, originalErr error) *PipelineError {
	return newKindError(KindTransientIO, module, message, originalErr, false, true)
}

// NewMalformedPayload reports a payload that could not be parsed at all.
func NewMalformedPayload(module, message string, originalErr error) *PipelineError {
	return newKindError(KindMalformedPayload, module, message, originalErr, true, false)
}

// NewSchemaViolation reports a payload whose field does not satisfy the schema.
func NewSchemaViolation(module, field, message string, originalErr error) *PipelineError {
	e := newKindError(KindSchemaViolation, module, message, originalErr, true, false)
	e.Field = field
	return e
}

// NewIncompatibleTarget reports an existing table that cannot hold the schema.
func NewIncompatibleTarget(module, message string, originalErr error) *PipelineError {
	return newKindError(KindIncompatibleTarget, module, message, originalErr, false, false)
}

// NewCheckpointWriteFailure reports a checkpoint that could not be persisted.
func NewCheckpointWriteFailure(module, message string, originalErr error) *PipelineError {
	return newKindError(KindCheckpointWrite, module, message, originalErr, false, true)
}

// NewConfigurationError reports invalid configuration.
func NewConfigurationError(module, message string, originalErr error) *PipelineError {
	return newKindError(KindConfiguration, module, message, originalErr, false, false)
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Module)
	if e.Kind != "" && e.Kind != KindInternal {
		prefix = fmt.Sprintf("[%s] %s", e.Module, e.Kind)
		if e.Field != "" {
			prefix += fmt.Sprintf("{%s}", e.Field)
		}
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *PipelineError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the sentinel error of the error's kind.
func (e *PipelineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// IsRetryable returns whether this error is retryable.
func (e *PipelineError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *PipelineError) IsSkippable() bool {
	return e.isSkippable
}

// AsPipelineError returns the first PipelineError in err's chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of the first PipelineError in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	if pe, ok := AsPipelineError(err); ok {
		return pe.Kind
	}
	return KindInternal
}

// IsTemporary determines if an error may succeed when retried.
// A PipelineError's retryable flag takes precedence over message heuristics.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsPipelineError(err); ok {
		return pe.IsRetryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error must terminate the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsPipelineError(err); ok {
		return !pe.IsRetryable() && !pe.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// IsErrorOfType checks if err matches errorTypeName: a registered name (errors.Is),
// a substring of any message in the chain, or a Go type name in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
		currentErr = errors.Unwrap(currentErr)
	}
	return false
}

// ExtractErrorMessage returns the Message of a PipelineError or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := AsPipelineError(err); ok {
		return pe.Message
	}
	return err.Error()
}

func init() {
	for kind, sentinel := range kindSentinels {
		RegisterErrorType(string(kind), sentinel)
	}
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}
