package engine

import (
	"testing"
	"time"
)

func TestPairTransitions(t *testing.T) {
	cases := []struct {
		from    PairStatus
		to      PairStatus
		allowed bool
	}{
		{PairPendingProof, PairProofUploaded, true},
		{PairPendingProof, PairExpired, true},
		{PairPendingProof, PairConfirmed, false},
		{PairProofUploaded, PairConfirmed, true},
		{PairProofUploaded, PairExpired, true},
		{PairProofUploaded, PairPendingProof, false},
		{PairConfirmed, PairExpired, false},
		{PairExpired, PairConfirmed, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if PairPendingProof.Terminal() || PairProofUploaded.Terminal() {
		t.Fatalf("non-terminal state reported terminal")
	}
	if !PairConfirmed.Terminal() || !PairExpired.Terminal() {
		t.Fatalf("terminal state not reported terminal")
	}
}

func TestParsePairStatus(t *testing.T) {
	if _, err := ParsePairStatus("proof_uploaded"); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ParsePairStatus("uploaded"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestExtendedProofDeadline(t *testing.T) {
	deadlines := Deadlines{Proof: 4 * time.Hour, Confirmation: 4 * time.Hour, Extension: time.Hour}
	created := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
	deadline := deadlines.ProofDeadline(created)
	if !deadline.Equal(created.Add(4 * time.Hour)) {
		t.Fatalf("unexpected proof deadline %s", deadline)
	}

	extended, err := deadlines.ExtendedProofDeadline(deadline, deadline.Add(-time.Minute))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !extended.Equal(deadline.Add(time.Hour)) {
		t.Fatalf("expected exactly one hour extension, got %s", extended)
	}

	if _, err := deadlines.ExtendedProofDeadline(deadline, deadline); err == nil {
		t.Fatalf("expected error extending at the deadline")
	}
	if _, err := deadlines.ExtendedProofDeadline(deadline, deadline.Add(time.Minute)); err == nil {
		t.Fatalf("expected error extending after the deadline")
	}
}
