package codecerr

import (
	"errors"
	"testing"
)

func TestKindWireName(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindType, "TypeError"},
		{KindInvalidState, "InvalidStateError"},
		{KindNotSupported, "NotSupportedError"},
		{KindData, "EncodingError"},
		{KindEncoding, "EncodingError"},
		{KindDecoding, "EncodingError"},
		{KindAbort, "AbortError"},
		{KindQuotaExceeded, "QuotaExceededError"},
		{Kind("bogus"), "Error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "inst-1", "boom")
			if got := err.WireName(); got != tt.expected {
				t.Errorf("WireName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewNoCause(t *testing.T) {
	err := New(KindType, "inst-1", "bad input")
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", err.Unwrap())
	}
	want := "TypeError (type) [instance=inst-1]: bad input"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapCause(t *testing.T) {
	cause := errors.New("pipe closed")
	err := Wrap(KindEncoding, "inst-2", "backend failed", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	want := "EncodingError (encoding) [instance=inst-2]: backend failed: pipe closed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsKind(t *testing.T) {
	abortErr := New(KindAbort, "inst-3", "flush aborted")
	wrapped := Wrap(KindEncoding, "inst-3", "outer", abortErr)

	if !IsKind(abortErr, KindAbort) {
		t.Errorf("IsKind(abortErr, KindAbort) = false, want true")
	}
	if IsKind(abortErr, KindType) {
		t.Errorf("IsKind(abortErr, KindType) = true, want false")
	}
	if !IsKind(wrapped, KindAbort) {
		t.Errorf("IsKind(wrapped, KindAbort) = false, want true; should unwrap through the chain")
	}
	if IsKind(nil, KindAbort) {
		t.Errorf("IsKind(nil, KindAbort) = true, want false")
	}
	if IsKind(errors.New("plain"), KindAbort) {
		t.Errorf("IsKind on a non-CodecError = true, want false")
	}
}
