package mint

import (
	"context"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut03"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/cache"
	"github.com/elnosh/starknuts/mint/storage"
)

// Swap spends the inputs and signs outputs of the same total amount.
// Of two swaps sharing an input only one commits, the other fails
// with ProofAlreadyUsedErr.
func (m *Mint) Swap(ctx context.Context, req nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	key := cache.Key{Route: nut19.Swap, Fingerprint: nut19.SwapFingerprint(req)}
	return cached(ctx, m, key, func(ctx context.Context) (*nut03.PostSwapResponse, error) {
		return m.swap(ctx, req)
	})
}

func (m *Mint) swap(ctx context.Context, req nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	inputs, err := m.verifyInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := m.verifyOutputs(req.Outputs)
	if err != nil {
		return nil, err
	}
	if inputs.unit != outputs.unit {
		return nil, cashu.MultipleUnitsErr
	}
	if inputs.amount != outputs.amount {
		return nil, cashu.AmountConservationErr
	}

	if err := m.keysets.VerifyProofs(ctx, req.Inputs); err != nil {
		return nil, err
	}

	var signatures cashu.BlindedSignatures
	err = m.db.WithTx(ctx, func(tx storage.Queries) error {
		if err := checkProofsUnused(ctx, tx, inputs.Ys); err != nil {
			return err
		}
		if err := tx.InsertProofs(ctx, dbProofs(req.Inputs, inputs.Ys, nut07.Spent, "")); err != nil {
			return err
		}
		if err := checkOutputsUnsigned(ctx, tx, outputs.B_s); err != nil {
			return err
		}

		signatures, err = m.keysets.SignBlinded(ctx, req.Outputs)
		if err != nil {
			return err
		}
		return tx.SaveBlindSignatures(ctx, outputs.B_s, signatures)
	})
	if err != nil {
		return nil, m.txError(err, "swapping proofs")
	}

	m.logDebugf("swapped %v proofs for %v outputs of %v %v", len(req.Inputs), len(req.Outputs), inputs.amount, inputs.unit)
	return &nut03.PostSwapResponse{Signatures: signatures}, nil
}
