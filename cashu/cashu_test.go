package cashu

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 0, expected: []uint64{}},
		{amount: 1, expected: []uint64{1}},
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 100, expected: []uint64{4, 32, 64}},
	}

	for _, test := range tests {
		split := AmountSplit(test.amount)
		if !reflect.DeepEqual(split, test.expected) {
			t.Fatalf("expected '%v' but got '%v'", test.expected, split)
		}
	}
}

func TestProofsAmount(t *testing.T) {
	proofs := Proofs{{Amount: 64}, {Amount: 32}, {Amount: 4}}
	amount, err := proofs.Amount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 100 {
		t.Fatalf("expected '%v' but got '%v'", 100, amount)
	}

	proofs = Proofs{{Amount: math.MaxUint64}, {Amount: 1}}
	if _, err := proofs.Amount(); !errors.Is(err, AmountOverflowErr) {
		t.Fatalf("expected error '%v' but got '%v'", AmountOverflowErr, err)
	}

	outputs := BlindedMessages{{Amount: 1 << 63}, {Amount: 1 << 63}}
	if _, err := outputs.Amount(); !errors.Is(err, AmountOverflowErr) {
		t.Fatalf("expected error '%v' but got '%v'", AmountOverflowErr, err)
	}
}

func TestErrorIs(t *testing.T) {
	err := BuildCashuError("invalid proof at index 3", InvalidProofErrCode)
	if !errors.Is(err, InvalidProofErr) {
		t.Fatal("expected error built with same code to match sentinel")
	}

	wrapped := fmt.Errorf("swap: %w", ProofAlreadyUsedErr)
	if !errors.Is(wrapped, ProofAlreadyUsedErr) {
		t.Fatal("expected wrapped error to match sentinel")
	}

	if errors.Is(ProofAlreadyUsedErr, InvalidProofErr) {
		t.Fatal("errors with different codes should not match")
	}

	var cashuErr *Error
	if !errors.As(InvalidProofAt(2), &cashuErr) || cashuErr.Code != InvalidProofErrCode {
		t.Fatalf("expected code '%v' but got '%v'", InvalidProofErrCode, cashuErr)
	}
}

func TestUnitFromString(t *testing.T) {
	tests := []struct {
		unit        string
		expected    Unit
		expectedErr error
	}{
		{unit: "strk", expected: Strk},
		{unit: "millistrk", expected: MilliStrk},
		{unit: "sat", expectedErr: ErrInvalidUnit},
	}

	for _, test := range tests {
		unit, err := UnitFromString(test.unit)
		if !errors.Is(err, test.expectedErr) {
			t.Fatalf("expected error '%v' but got '%v'", test.expectedErr, err)
		}
		if err == nil && unit != test.expected {
			t.Fatalf("expected '%v' but got '%v'", test.expected, unit)
		}
	}
}

func TestCheckDuplicates(t *testing.T) {
	proofs := Proofs{{Secret: "a"}, {Secret: "b"}, {Secret: "a"}}
	if !CheckDuplicateProofs(proofs) {
		t.Fatal("expected duplicate proofs")
	}

	outputs := BlindedMessages{{B_: "02aa"}, {B_: "02bb"}}
	if CheckDuplicateBlindedMessages(outputs) {
		t.Fatal("did not expect duplicate outputs")
	}
}
