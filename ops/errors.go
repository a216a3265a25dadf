package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors. Messages are read by an agent that has no other
// documentation channel, so they are phrased as instructions.
var (
	ErrInvalidKind     = errors.New("invalid operation kind")
	ErrFieldConstraint = errors.New("field constraint violation")
	ErrEmptyBatch      = errors.New("empty batch")
	ErrBatchTooLarge   = errors.New("too many ops")
	ErrDuplicateTempID = errors.New("duplicate tempId")
	ErrAmbiguousParent = errors.New("ambiguous parent reference")
	ErrDanglingParent  = errors.New("dangling parent reference")
)

// KindError reports a missing or unknown "op" discriminator.
type KindError struct {
	Kind any
}

func (e *KindError) Error() string {
	names := make([]string, len(allKinds))
	for i, k := range allKinds {
		names[i] = string(k)
	}
	if e.Kind == nil {
		return fmt.Sprintf("missing \"op\" field; valid ops: %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("unknown op %s; valid ops: %s", formatValue(e.Kind), strings.Join(names, ", "))
}

func (e *KindError) Unwrap() error { return ErrInvalidKind }

// FieldError reports a field outside its declared type, range or enum.
type FieldError struct {
	Field      string
	Value      any
	Missing    bool
	Constraint string
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("field %q is required: want %s", e.Field, e.Constraint)
	}
	return fmt.Sprintf("field %q: got %s, want %s", e.Field, formatValue(e.Value), e.Constraint)
}

func (e *FieldError) Unwrap() error { return ErrFieldConstraint }

// OpError locates a failure inside a batch. TempID and Kind are copied from
// the raw map, so they are present even when the op failed to parse.
type OpError struct {
	Index  int
	Kind   string
	TempID string
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "op index %d", e.Index)
	switch {
	case e.Kind != "" && e.TempID != "":
		fmt.Fprintf(&b, " (%s, tempId %q)", e.Kind, e.TempID)
	case e.Kind != "":
		fmt.Fprintf(&b, " (%s)", e.Kind)
	case e.TempID != "":
		fmt.Fprintf(&b, " (tempId %q)", e.TempID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
