package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "alpaca", "Get", "device request")

	assert.EqualError(t, err, "alpaca.Get: device request failed: connection refused")
	assert.ErrorIs(t, err, base)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassifiedWrappersPreserveSentinels(t *testing.T) {
	err := WrapTransient(
		fmt.Errorf("%w: telescope/0", ErrDeviceUnreachable),
		"alpaca", "do", "device request")

	assert.ErrorIs(t, err, ErrDeviceUnreachable)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.False(t, IsInvalid(err))

	var ce *ClassifiedError
	assert.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "alpaca", ce.Component)
	assert.Equal(t, "do", ce.Operation)
}

func TestClassificationPredicates(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"wrapped transient", WrapTransient(ErrBusUnreachable, "bus", "Connect", "dial"), true, false, false},
		{"wrapped invalid", WrapInvalid(ErrMalformedCommand, "command", "decode", "envelope"), false, true, false},
		{"wrapped fatal", WrapFatal(ErrMissingConfig, "config", "Validate", "broker"), false, false, true},
		{"bare device unreachable", ErrDeviceUnreachable, true, false, false},
		{"bare connection timeout", ErrConnectionTimeout, true, false, false},
		{"deadline exceeded", context.DeadlineExceeded, true, false, false},
		{"bare malformed command", ErrMalformedCommand, false, true, false},
		{"bare image decode", ErrImageDecodeFailure, false, true, false},
		{"bare invalid config", ErrInvalidConfig, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err), "IsTransient")
			assert.Equal(t, tc.invalid, IsInvalid(tc.err), "IsInvalid")
			assert.Equal(t, tc.fatal, IsFatal(tc.err), "IsFatal")
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(ErrNoConnection))
	assert.Equal(t, ErrorInvalid, Classify(ErrCommandRejected))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("something new")),
		"unknown errors default to transient so callers retry")
}

func TestTransientMessagePatterns(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("read tcp: i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("write: broken pipe")))
	assert.False(t, IsTransient(stderrors.New("no such attribute")))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
