package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate acknowledges an event that was already applied.
	ErrDuplicate = errors.New("duplicate event")

	// ErrSequenceGap rejects an event that skips feed positions.
	ErrSequenceGap = errors.New("sequence gap")
)

// SequenceValidator tracks the contiguous feed position.
// Not thread-safe: only accessed from the engine goroutine.
type SequenceValidator struct {
	lastApplied int64
	allowGaps   bool

	gaps     int64
	replayed int64
}

func NewSequenceValidator(lastApplied int64, allowGaps bool) *SequenceValidator {
	return &SequenceValidator{lastApplied: lastApplied, allowGaps: allowGaps}
}

// Check classifies seq against the last applied position. It does not
// advance; Advance is called once the event commits.
func (sv *SequenceValidator) Check(seq int64) error {
	expected := sv.lastApplied + 1
	switch {
	case seq < expected:
		sv.replayed++
		return fmt.Errorf("%w: sequence %d already applied (last=%d)", ErrDuplicate, seq, sv.lastApplied)
	case seq == expected:
		return nil
	case sv.allowGaps:
		sv.gaps++
		return nil
	default:
		sv.gaps++
		return fmt.Errorf("%w: expected=%d, got=%d", ErrSequenceGap, expected, seq)
	}
}

// Advance records seq as applied.
func (sv *SequenceValidator) Advance(seq int64) {
	sv.lastApplied = seq
}

// LastApplied returns the last applied sequence (0 before any event).
func (sv *SequenceValidator) LastApplied() int64 {
	return sv.lastApplied
}

// SetLastApplied initializes the position (used during recovery)
func (sv *SequenceValidator) SetLastApplied(seq int64) {
	sv.lastApplied = seq
}

func (sv *SequenceValidator) Gaps() int64     { return sv.gaps }
func (sv *SequenceValidator) Replayed() int64 { return sv.replayed }
