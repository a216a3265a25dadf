package ops

import (
	"fmt"
	"slices"
)

// MaxBatchSize is the largest number of operations accepted in one batch.
const MaxBatchSize = 100

// Batch is an ordered, validated and reference-consistent list of
// operations. It is immutable.
type Batch struct {
	ops []Op
}

func (b *Batch) Len() int { return len(b.ops) }

// Ops returns a copy of the operations in submission order.
func (b *Batch) Ops() []Op { return slices.Clone(b.ops) }

// Wire returns the batch as plain maps, ready to hand to the executor.
func (b *Batch) Wire() []map[string]any {
	out := make([]map[string]any, len(b.ops))
	for i, op := range b.ops {
		out[i] = op.Wire()
	}
	return out
}

// Validate parses every raw operation in order and checks the batch-level
// invariants in the same pass: tempIds are unique, a parentTempId names a
// strictly earlier create operation, and no operation names both parents. The
// first failure aborts the whole batch and is returned as an *OpError
// carrying the operation index.
func Validate(raw []map[string]any) (*Batch, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: submit at least one op", ErrEmptyBatch)
	}
	if len(raw) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d (max %d); split the work into several batches", ErrBatchTooLarge, len(raw), MaxBatchSize)
	}

	// seen holds every tempId for the duplicate check; parents only those of
	// ops that create a node.
	seen := make(map[string]int, len(raw))
	parents := make(map[string]bool, len(raw))
	out := make([]Op, 0, len(raw))
	for i, m := range raw {
		op, err := Parse(m)
		if err != nil {
			return nil, opError(i, m, err)
		}
		id := op.Common().TempID
		if first, dup := seen[id]; dup && id != "" {
			return nil, opError(i, m, fmt.Errorf("%w %q: already declared at op index %d", ErrDuplicateTempID, id, first))
		}
		if c, ok := op.(creator); ok {
			p := c.placement()
			if p.ParentTempID != "" && p.ParentNodeID != "" {
				return nil, opError(i, m, fmt.Errorf("%w: specify either parentTempId or parentNodeId, not both", ErrAmbiguousParent))
			}
			if p.ParentTempID != "" {
				if !parents[p.ParentTempID] {
					return nil, opError(i, m, fmt.Errorf(
						"%w: parentTempId %q is not declared by an earlier create op in this batch; declare the parent first or use parentNodeId for an existing node",
						ErrDanglingParent, p.ParentTempID))
				}
			}
			parents[id] = true
		}
		if id != "" {
			seen[id] = i
		}
		out = append(out, op)
	}
	return &Batch{ops: out}, nil
}

func opError(i int, raw map[string]any, err error) *OpError {
	e := &OpError{Index: i, Err: err}
	e.Kind, _ = raw["op"].(string)
	e.TempID, _ = raw["tempId"].(string)
	return e
}
