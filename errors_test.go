package facade

import (
	"errors"
	"testing"
)

func TestErrorIsComparesByKind(t *testing.T) {
	e1 := wrapErr(ArangoConflict, nil, "first message")
	e2 := wrapErr(ArangoConflict, nil, "a different message")
	if !errors.Is(e1, e2) {
		t.Error("two *Error values with the same Kind should compare equal via errors.Is")
	}
	if errors.Is(e1, ErrDocumentNotFound) {
		t.Error("different Kinds should not compare equal")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != NoError {
		t.Error("KindOf(nil) should be NoError")
	}
	if KindOf(wrapErr(ArangoDocumentKeyBad, nil, "bad")) != ArangoDocumentKeyBad {
		t.Error("KindOf should unwrap a typed *Error")
	}
	if KindOf(errors.New("boom")) != Internal {
		t.Error("KindOf should default to Internal for untyped errors")
	}
}
