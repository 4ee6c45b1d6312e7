// Package errors provides error types and utilities for the resilience layer.
package errors

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeCache represents cache-specific errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeStorage represents durable storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeNetwork represents transport errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeOperation represents operation-specific errors
	ErrorTypeOperation ErrorType = "operation"
)

// Class tells callers whether an error is worth retrying.
type Class int

const (
	// ClassUnknown is used for errors that carry no retry classification
	ClassUnknown Class = iota
	// ClassTransient errors may succeed when retried
	ClassTransient
	// ClassPermanent errors will fail again with the same input
	ClassPermanent
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Common error types
var (
	// Cache errors
	ErrCacheClosed     = errors.New("cache is closed")
	ErrKeyNotFound     = errors.New("key not found")
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidValue    = errors.New("invalid value")
	ErrEntryTooLarge   = errors.New("entry larger than cache max size")
	ErrContextCanceled = errors.New("operation canceled by context")

	// TTL errors
	ErrInvalidTTL = errors.New("invalid TTL value")

	// Storage errors
	ErrStorageRead   = errors.New("storage read failed")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrStorageFull   = errors.New("storage quota exceeded")
	ErrStorageClosed = errors.New("storage is closed")

	// Data errors
	ErrCompression     = errors.New("compression error")
	ErrDecompression   = errors.New("decompression error")
	ErrSerialization   = errors.New("serialization error")
	ErrDeserialization = errors.New("deserialization error")

	// Network errors
	ErrNetwork     = errors.New("network request failed")
	ErrTimeout     = errors.New("request timed out")
	ErrAborted     = errors.New("request aborted")
	ErrServer      = errors.New("server error")
	ErrClient      = errors.New("request rejected")
	ErrUnreachable = errors.New("api unreachable")

	// Sync errors
	ErrUnknownSyncType   = errors.New("unknown sync item type")
	ErrUnknownSyncAction = errors.New("unknown sync action")
	ErrInvalidPayload    = errors.New("invalid sync payload")
	ErrRetriesExhausted  = errors.New("maximum retries exceeded")

	// Lifecycle errors
	ErrStopped          = errors.New("component stopped")
	ErrTooManyListeners = errors.New("too many subscribers")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Error represents a failed operation of the resilience layer
type Error struct {
	Op      string
	Key     any
	Err     error
	ErrType ErrorType
	Class   Class
}

// determineErrorType determines the error type based on the error
func determineErrorType(err error) ErrorType {
	switch {
	case errors.Is(err, ErrCacheClosed) || errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrEntryTooLarge):
		return ErrorTypeCache
	case errors.Is(err, ErrStorageRead) || errors.Is(err, ErrStorageWrite) ||
		errors.Is(err, ErrStorageFull) || errors.Is(err, ErrStorageClosed):
		return ErrorTypeStorage
	case errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrAborted) || errors.Is(err, ErrServer) ||
		errors.Is(err, ErrClient) || errors.Is(err, ErrUnreachable):
		return ErrorTypeNetwork
	case errors.Is(err, ErrCompression) || errors.Is(err, ErrDecompression) ||
		errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeserialization) ||
		errors.Is(err, ErrInvalidTTL) || errors.Is(err, ErrUnknownSyncType) ||
		errors.Is(err, ErrUnknownSyncAction) || errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrInvalidConfig):
		return ErrorTypeValidation
	default:
		return ErrorTypeOperation
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := string(e.ErrType)
	if e.Class != ClassUnknown {
		prefix = e.Class.String() + " " + prefix
	}
	if e.Key != nil {
		return fmt.Sprintf("%s: %s: key=%v: %v", prefix, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error is of the same type as the receiver
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ErrType == t.ErrType && e.Op == t.Op && errors.Is(e.Err, t.Err)
}

// ErrorTypes lists every ErrorType
var ErrorTypes = []ErrorType{
	ErrorTypeCache,
	ErrorTypeStorage,
	ErrorTypeNetwork,
	ErrorTypeValidation,
	ErrorTypeOperation,
}

// ErrorMetrics counts wrapped errors by type and recovered panics
type ErrorMetrics struct {
	CacheErrors      atomic.Int64
	StorageErrors    atomic.Int64
	NetworkErrors    atomic.Int64
	ValidationErrors atomic.Int64
	OperationErrors  atomic.Int64

	PanicRecoveries atomic.Int64
}

var metrics = &ErrorMetrics{}

// GetErrorMetrics returns the process-wide error counters
func GetErrorMetrics() *ErrorMetrics {
	return metrics
}

// Count returns how many errors of errType were wrapped
func (m *ErrorMetrics) Count(errType ErrorType) int64 {
	if c := m.counter(errType); c != nil {
		return c.Load()
	}
	return 0
}

func (m *ErrorMetrics) counter(errType ErrorType) *atomic.Int64 {
	switch errType {
	case ErrorTypeCache:
		return &m.CacheErrors
	case ErrorTypeStorage:
		return &m.StorageErrors
	case ErrorTypeNetwork:
		return &m.NetworkErrors
	case ErrorTypeValidation:
		return &m.ValidationErrors
	case ErrorTypeOperation:
		return &m.OperationErrors
	}
	return nil
}

func updateErrorMetrics(errType ErrorType) {
	if c := metrics.counter(errType); c != nil {
		c.Add(1)
	}
}

// WrapError wraps an error with context and updates metrics
func WrapError(op string, key any, err error) error {
	if err == nil {
		return nil
	}

	errType := determineErrorType(err)
	updateErrorMetrics(errType)

	return &Error{ErrType: errType, Op: op, Key: key, Err: err}
}

func classify(op string, key any, err error, class Class) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok && e.Op == op {
		cp := *e
		cp.Class = class
		return &cp
	}
	errType := determineErrorType(err)
	updateErrorMetrics(errType)
	return &Error{Op: op, Key: key, Err: err, ErrType: errType, Class: class}
}

// Transient wraps err as a retryable failure
func Transient(op string, key any, err error) error {
	return classify(op, key, err, ClassTransient)
}

// Permanent wraps err as a failure that must not be retried
func Permanent(op string, key any, err error) error {
	return classify(op, key, err, ClassPermanent)
}

// ClassOf returns the retry classification of err.
// Errors that carry no classification are treated as transient so that
// no mutation is dropped because of an unexpected error shape.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Class != ClassUnknown {
		return e.Class
	}
	var exhausted *ExhaustedRetryError
	if errors.As(err, &exhausted) {
		return ClassPermanent
	}
	return ClassTransient
}

// IsTransient checks if an error should be retried
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

// IsPermanent checks if an error must not be retried
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ClassPermanent
}

// ExhaustedRetryError reports a sync item dropped after its last allowed attempt
type ExhaustedRetryError struct {
	ItemID   string
	ItemType string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *ExhaustedRetryError) Error() string {
	return fmt.Sprintf("sync item %s (%s) failed after %d attempts: %v", e.ItemID, e.ItemType, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error
func (e *ExhaustedRetryError) Unwrap() error {
	return e.Err
}

// Is matches ErrRetriesExhausted
func (e *ExhaustedRetryError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// RecoverFromPanic recovers from a panic and updates metrics
func RecoverFromPanic(op string, key any) bool {
	if r := recover(); r != nil {
		metrics.PanicRecoveries.Add(1)
		return true
	}
	return false
}

// GetError returns the *Error wrapped by err, if any
func GetError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if e := GetError(err); e != nil {
		return e.ErrType == errType
	}
	return false
}

// IsKeyNotFound checks if the error is a key not found error
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsStorage checks if the error came from durable storage
func IsStorage(err error) bool {
	return IsErrorType(err, ErrorTypeStorage)
}

// Is, As, New and Join re-export the standard library helpers so callers that
// import this package under the name "errors" keep access to them.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
