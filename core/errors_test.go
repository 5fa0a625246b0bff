package core

import (
	"errors"
	"testing"
)

func TestKindOfExtractsCoreError(t *testing.T) {
	err := NewError(KindInsufficientBalance, "balance too low")
	if KindOf(err) != KindInsufficientBalance {
		t.Fatalf("expected KindInsufficientBalance, got %v", KindOf(err))
	}
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	inner := NewError(KindPersistenceIoError, "disk write failed")
	outer := errors.New("context: " + inner.Error())
	if KindOf(outer) != KindUnknown {
		t.Fatalf("plain errors.New should not resolve to a CoreError kind")
	}

	wrapped := WrapError(KindPersistenceIoError, "append failed", inner)
	if KindOf(wrapped) != KindPersistenceIoError {
		t.Fatalf("expected KindPersistenceIoError from wrapped error, got %v", KindOf(wrapped))
	}
}

func TestKindOfDefaultsUnknown(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected KindUnknown for a plain error")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatalf("expected KindUnknown for nil error")
	}
}

func TestWithContextPreservesExistingKeys(t *testing.T) {
	err := NewError(KindContractExpired, "contract lapsed").
		WithContext("contract_id", "c-1").
		WithContext("height", "42")
	if err.Context["contract_id"] != "c-1" || err.Context["height"] != "42" {
		t.Fatalf("expected both context keys to survive chained WithContext calls: %+v", err.Context)
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	wrapped := WrapError(KindPersistenceIoError, "append failed", inner)
	if !errors.Is(wrapped, inner) {
		t.Fatalf("expected errors.Is to see through CoreError.Unwrap")
	}
}
