package mint

import (
	"context"
	"encoding/hex"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/crypto"
	"github.com/elnosh/starknuts/mint/storage"
)

const (
	MaxInputs  = 64
	MaxOutputs = 64
)

// verifiedOutputs is the result of validating the outputs of a request.
type verifiedOutputs struct {
	amount uint64
	unit   cashu.Unit
	B_s    []string
}

// verifyOutputs checks the blinded messages against the active keysets.
// It does not check whether they were already signed.
func (m *Mint) verifyOutputs(outputs cashu.BlindedMessages) (verifiedOutputs, error) {
	if len(outputs) == 0 {
		return verifiedOutputs{}, cashu.NoOutputsProvided
	}
	if len(outputs) > MaxOutputs {
		return verifiedOutputs{}, cashu.TooManyOutputsErr
	}
	if cashu.CheckDuplicateBlindedMessages(outputs) {
		return verifiedOutputs{}, cashu.DuplicateOutputs
	}

	var unit cashu.Unit
	B_s := make([]string, len(outputs))
	for i, output := range outputs {
		keyset, err := m.keysets.GetKeys(output.Id)
		if err != nil {
			return verifiedOutputs{}, err
		}
		if !keyset.Active {
			return verifiedOutputs{}, cashu.InactiveKeysetSignatureRequest
		}
		if i == 0 {
			unit = keyset.Unit
		} else if keyset.Unit != unit {
			return verifiedOutputs{}, cashu.MultipleUnitsErr
		}
		if _, ok := keyset.Keys[output.Amount]; !ok {
			return verifiedOutputs{}, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return verifiedOutputs{}, cashu.BuildCashuError("invalid B_", cashu.StandardErrCode)
		}
		if _, err := secp256k1.ParsePubKey(B_bytes); err != nil {
			return verifiedOutputs{}, cashu.BuildCashuError("invalid B_", cashu.StandardErrCode)
		}
		B_s[i] = output.B_
	}

	amount, err := outputs.Amount()
	if err != nil {
		return verifiedOutputs{}, err
	}

	return verifiedOutputs{amount: amount, unit: unit, B_s: B_s}, nil
}

// verifiedInputs is the result of validating the proofs of a request.
type verifiedInputs struct {
	amount uint64
	unit   cashu.Unit
	Ys     []string
}

// verifyInputs checks the proofs structurally. Signatures are checked
// by the signer and the spent state by the ledger.
func (m *Mint) verifyInputs(proofs cashu.Proofs) (verifiedInputs, error) {
	if len(proofs) == 0 {
		return verifiedInputs{}, cashu.NoProofsProvided
	}
	if len(proofs) > MaxInputs {
		return verifiedInputs{}, cashu.TooManyInputsErr
	}

	var unit cashu.Unit
	Ys := make([]string, len(proofs))
	seen := make(map[string]bool, len(proofs))
	for i, proof := range proofs {
		keyset, err := m.keysets.GetKeys(proof.Id)
		if err != nil {
			return verifiedInputs{}, err
		}
		if i == 0 {
			unit = keyset.Unit
		} else if keyset.Unit != unit {
			return verifiedInputs{}, cashu.MultipleUnitsErr
		}
		if _, ok := keyset.Keys[proof.Amount]; !ok {
			return verifiedInputs{}, cashu.InvalidProofAt(i)
		}

		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return verifiedInputs{}, cashu.InvalidProofAt(i)
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())
		if seen[Yhex] {
			return verifiedInputs{}, cashu.DuplicateProofs
		}
		seen[Yhex] = true
		Ys[i] = Yhex
	}

	amount, err := proofs.Amount()
	if err != nil {
		return verifiedInputs{}, err
	}

	return verifiedInputs{amount: amount, unit: unit, Ys: Ys}, nil
}

// checkProofsUnused fails if any of the Ys is already recorded in the ledger.
func checkProofsUnused(ctx context.Context, tx storage.Queries, Ys []string) error {
	existing, err := tx.GetProofs(ctx, Ys)
	if err != nil {
		return err
	}
	for _, proof := range existing {
		if proof.State == nut07.Pending {
			return cashu.ProofPendingErr
		}
		return cashu.ProofAlreadyUsedErr
	}
	return nil
}

// checkOutputsUnsigned fails if any of the B_s was signed before.
func checkOutputsUnsigned(ctx context.Context, tx storage.Queries, B_s []string) error {
	signed, err := tx.GetBlindSignatures(ctx, B_s)
	if err != nil {
		return err
	}
	if len(signed) > 0 {
		return cashu.BlindedMessageAlreadySigned
	}
	return nil
}

// addAmounts sums amounts and reports overflow as AmountOverflowErr.
func addAmounts(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, cashu.AmountOverflowErr
	}
	return sum, nil
}

func dbProofs(proofs cashu.Proofs, Ys []string, state nut07.State, meltQuoteId string) []storage.DBProof {
	dbProofs := make([]storage.DBProof, len(proofs))
	for i, proof := range proofs {
		dbProofs[i] = storage.DBProof{
			Y:           Ys[i],
			Amount:      proof.Amount,
			Id:          proof.Id,
			Secret:      proof.Secret,
			C:           proof.C,
			State:       state,
			MeltQuoteId: meltQuoteId,
		}
	}
	return dbProofs
}
