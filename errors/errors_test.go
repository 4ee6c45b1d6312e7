package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorBasics(t *testing.T) {
	err := errors.New("base error")
	e := &Error{
		Op:      "Get",
		Key:     "foo",
		Err:     err,
		ErrType: ErrorTypeCache,
	}
	require.Contains(t, e.Error(), "Get")
	require.Contains(t, e.Error(), "foo")
	require.Contains(t, e.Error(), "base error")
	require.Equal(t, err, e.Unwrap())

	e2 := &Error{
		Op:      "Get",
		Key:     "foo",
		Err:     err,
		ErrType: ErrorTypeCache,
	}
	require.True(t, e.Is(e2))
}

func TestWrapErrorAndTypeChecks(t *testing.T) {
	wrapped := WrapError("Get", "bar", ErrKeyNotFound)
	require.Error(t, wrapped)
	e, ok := wrapped.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrorTypeCache, e.ErrType)
	require.Equal(t, "Get", e.Op)
	require.Equal(t, "bar", e.Key)
	require.True(t, errors.Is(wrapped, ErrKeyNotFound))

	require.NotNil(t, GetError(fmt.Errorf("outer: %w", wrapped)))
	require.True(t, IsErrorType(wrapped, ErrorTypeCache))
	require.True(t, IsKeyNotFound(wrapped))
	require.Nil(t, WrapError("Get", "bar", nil))
}

func TestClassification(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		err := Transient("Execute", "/api/models", ErrServer)
		require.True(t, IsTransient(err))
		require.False(t, IsPermanent(err))
		require.True(t, IsErrorType(err, ErrorTypeNetwork))
		require.Contains(t, err.Error(), "transient")
	})

	t.Run("permanent", func(t *testing.T) {
		err := Permanent("AddToSyncQueue", "bogus", ErrUnknownSyncType)
		require.True(t, IsPermanent(err))
		require.False(t, IsTransient(err))
		require.True(t, IsErrorType(err, ErrorTypeValidation))
	})

	t.Run("unclassified errors retry", func(t *testing.T) {
		require.True(t, IsTransient(context.DeadlineExceeded))
		require.Equal(t, ClassUnknown, ClassOf(nil))
		require.False(t, IsTransient(nil))
	})

	t.Run("reclassify same op", func(t *testing.T) {
		first := Transient("Execute", nil, ErrClient)
		second := Permanent("Execute", nil, first)
		require.True(t, IsPermanent(second))
		require.True(t, IsTransient(first), "the earlier value keeps its class")
		require.True(t, errors.Is(second, ErrClient))
	})

	t.Run("storage", func(t *testing.T) {
		err := WrapError("Set", "cache_api", ErrStorageFull)
		require.True(t, IsStorage(err))
	})
}

func TestExhaustedRetryError(t *testing.T) {
	last := Transient("Execute", nil, ErrServer)
	err := &ExhaustedRetryError{ItemID: "item-1", ItemType: "message", Attempts: 3, Err: last}
	require.True(t, errors.Is(err, ErrRetriesExhausted))
	require.True(t, errors.Is(err, ErrServer))
	require.True(t, IsPermanent(err))
	require.Contains(t, err.Error(), "item-1")
	require.Contains(t, err.Error(), "3 attempts")
}

func TestErrorMetrics(t *testing.T) {
	m := GetErrorMetrics()
	before := make(map[ErrorType]int64, len(ErrorTypes))
	for _, et := range ErrorTypes {
		before[et] = m.Count(et)
	}

	_ = WrapError("Set", "baz", ErrStorageWrite)
	_ = WrapError("Set", "baz", ErrCompression)
	_ = WrapError("Set", "baz", ErrStopped)
	_ = WrapError("Get", "baz", ErrKeyNotFound)
	_ = Transient("Execute", nil, ErrTimeout)

	for _, et := range ErrorTypes {
		require.Equal(t, before[et]+1, m.Count(et), et)
	}
	require.Zero(t, m.Count(ErrorType("unknown")))
}

func TestRecoverFromPanic(t *testing.T) {
	before := GetErrorMetrics().PanicRecoveries.Load()
	func() {
		defer RecoverFromPanic("Test", "panic-key")
		panic("test panic")
	}()
	require.Equal(t, before+1, GetErrorMetrics().PanicRecoveries.Load())
}
