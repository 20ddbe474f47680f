package engine

import (
	"fmt"
	"time"
)

// PairStatus is the match pair lifecycle. Confirmed and expired are terminal;
// a pair can never be confirmed without an uploaded proof.
type PairStatus string

const (
	PairPendingProof  PairStatus = "pending_proof"
	PairProofUploaded PairStatus = "proof_uploaded"
	PairConfirmed     PairStatus = "confirmed"
	PairExpired       PairStatus = "expired"
)

var pairTransitions = map[PairStatus][]PairStatus{
	PairPendingProof:  {PairProofUploaded, PairExpired},
	PairProofUploaded: {PairConfirmed, PairExpired},
}

func (s PairStatus) Terminal() bool {
	return s == PairConfirmed || s == PairExpired
}

func (s PairStatus) CanTransition(to PairStatus) bool {
	for _, next := range pairTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ParsePairStatus(value string) (PairStatus, error) {
	switch PairStatus(value) {
	case PairPendingProof, PairProofUploaded, PairConfirmed, PairExpired:
		return PairStatus(value), nil
	default:
		return "", fmt.Errorf("invalid pair status: %s", value)
	}
}

// Deadlines bundles the timing policy applied to every new pair.
type Deadlines struct {
	Proof        time.Duration
	Confirmation time.Duration
	Extension    time.Duration
}

func (d Deadlines) ProofDeadline(createdAt time.Time) time.Time {
	return createdAt.Add(d.Proof)
}

func (d Deadlines) ConfirmationDeadline(uploadedAt time.Time) time.Time {
	return uploadedAt.Add(d.Confirmation)
}

// ExtendedProofDeadline applies the one-shot extension. The extension must be
// requested before the current deadline passes and moves it forward by
// exactly the configured duration.
func (d Deadlines) ExtendedProofDeadline(current time.Time, now time.Time) (time.Time, error) {
	if !now.Before(current) {
		return time.Time{}, fmt.Errorf("proof deadline already passed")
	}
	return current.Add(d.Extension), nil
}
