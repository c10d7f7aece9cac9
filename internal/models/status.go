package models

import (
	"fmt"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the four known states.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts user input into a status.
func ParseStatus(raw string) (ProcessingStatus, error) {
	s := ProcessingStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown processing status %q", raw)
	}
	return s, nil
}

var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// ValidateTransition checks from -> to against the state machine.
// A processing -> processing move is a reclaim of an expired lease.
func ValidateTransition(from, to ProcessingStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid status transition %q -> %q", from, to)
	}
	if from.Terminal() {
		return fmt.Errorf("document already %s, cannot move to %s", from, to)
	}
	if from == StatusProcessing && to == StatusProcessing {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %q -> %q", from, to)
}

// CheckInvariants verifies the field/status coupling of a document.
func CheckInvariants(d *Document) error {
	if !d.ProcessingStatus.Valid() {
		return fmt.Errorf("document %s: unknown status %q", d.ID, d.ProcessingStatus)
	}
	if (d.ProcessingError != nil) != (d.ProcessingStatus == StatusFailed) {
		return fmt.Errorf("document %s: processing error set while %s", d.ID, d.ProcessingStatus)
	}
	if d.ExtractedText != nil && d.ProcessingStatus != StatusCompleted {
		return fmt.Errorf("document %s: extracted text set while %s", d.ID, d.ProcessingStatus)
	}
	if d.ProcessedAt != nil && !d.ProcessingStatus.Terminal() {
		return fmt.Errorf("document %s: processed at set while %s", d.ID, d.ProcessingStatus)
	}
	return nil
}
