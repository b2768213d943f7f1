package mint

import (
	"context"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut01"
	"github.com/elnosh/starknuts/cashu/nuts/nut02"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/cashu/nuts/nut09"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/cache"
)

const maxStateCheck = 1000

// ProofsStateCheck returns the state of the proofs identified by Ys.
// Proofs the ledger has never seen are unspent.
func (m *Mint) ProofsStateCheck(ctx context.Context, Ys []string) ([]nut07.ProofState, error) {
	if len(Ys) > maxStateCheck {
		return nil, cashu.TooManyInputsErr
	}
	for _, Y := range Ys {
		Ybytes, err := hex.DecodeString(Y)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid Y", cashu.StandardErrCode)
		}
		if _, err := secp256k1.ParsePubKey(Ybytes); err != nil {
			return nil, cashu.BuildCashuError("invalid Y", cashu.StandardErrCode)
		}
	}

	proofs, err := m.db.GetProofs(ctx, Ys)
	if err != nil {
		return nil, m.dbError(err, "getting proof states")
	}
	known := make(map[string]nut07.State, len(proofs))
	for _, proof := range proofs {
		known[proof.Y] = proof.State
	}

	states := make([]nut07.ProofState, len(Ys))
	for i, Y := range Ys {
		state, ok := known[Y]
		if !ok {
			state = nut07.Unspent
		}
		states[i] = nut07.ProofState{Y: Y, State: state}
	}
	return states, nil
}

// RestoreSignatures returns the signatures issued for the outputs that
// were signed before, in request order.
func (m *Mint) RestoreSignatures(ctx context.Context, outputs cashu.BlindedMessages) (*nut09.PostRestoreResponse, error) {
	if len(outputs) > maxStateCheck {
		return nil, cashu.TooManyOutputsErr
	}
	B_s := make([]string, len(outputs))
	for i, output := range outputs {
		B_s[i] = output.B_
	}

	stored, err := m.db.GetBlindSignatures(ctx, B_s)
	if err != nil {
		return nil, m.dbError(err, "getting blind signatures")
	}
	signed := make(map[string]cashu.BlindedSignature, len(stored))
	for _, signature := range stored {
		signed[signature.B_] = signature.Signature
	}

	response := &nut09.PostRestoreResponse{
		Outputs:    cashu.BlindedMessages{},
		Signatures: cashu.BlindedSignatures{},
	}
	for _, output := range outputs {
		if signature, ok := signed[output.B_]; ok {
			response.Outputs = append(response.Outputs, output)
			response.Signatures = append(response.Signatures, signature)
		}
	}
	return response, nil
}

// Acknowledge drops the cached response for the request so that the
// next identical request is executed again.
func (m *Mint) Acknowledge(path, requestHash string) error {
	route, err := nut19.ParsePath(path)
	if err != nil {
		return cashu.BuildCashuError("unknown path", cashu.StandardErrCode)
	}
	hash, err := hex.DecodeString(requestHash)
	if err != nil || len(hash) != 32 {
		return cashu.BuildCashuError("request hash must be 32 hex encoded bytes", cashu.StandardErrCode)
	}

	key := cache.Key{Route: route}
	copy(key.Fingerprint[:], hash)
	if m.cache.Acknowledge(key) {
		m.logDebugf("acknowledged cached response %v", key)
	}
	return nil
}

func (m *Mint) ListKeysets() nut02.GetKeysetsResponse {
	keysets := m.keysets.ListKeysets()
	response := nut02.GetKeysetsResponse{Keysets: make([]nut02.Keyset, len(keysets))}
	for i, keyset := range keysets {
		response.Keysets[i] = nut02.Keyset{Id: keyset.Id, Unit: keyset.Unit.String(), Active: keyset.Active}
	}
	return response
}

func (m *Mint) GetActiveKeys() nut01.GetKeysResponse {
	keysets := m.keysets.ActiveKeysets()
	response := nut01.GetKeysResponse{Keysets: make([]nut01.Keyset, len(keysets))}
	for i, keyset := range keysets {
		response.Keysets[i] = nut01.Keyset{Id: keyset.Id, Unit: keyset.Unit.String(), Keys: keyset.Keys}
	}
	return response
}

func (m *Mint) GetKeysById(id string) (nut01.GetKeysResponse, error) {
	keyset, err := m.keysets.GetKeys(id)
	if err != nil {
		return nut01.GetKeysResponse{}, err
	}
	return nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{Id: keyset.Id, Unit: keyset.Unit.String(), Keys: keyset.Keys}},
	}, nil
}

// IssuedEcash returns the amount signed so far per keyset id.
func (m *Mint) IssuedEcash(ctx context.Context) (map[string]uint64, error) {
	issued, err := m.db.IssuedEcash(ctx)
	if err != nil {
		return nil, m.dbError(err, "getting issued ecash")
	}
	return issued, nil
}

// RedeemedEcash returns the amount of spent proofs per keyset id.
func (m *Mint) RedeemedEcash(ctx context.Context) (map[string]uint64, error) {
	redeemed, err := m.db.RedeemedEcash(ctx)
	if err != nil {
		return nil, m.dbError(err, "getting redeemed ecash")
	}
	return redeemed, nil
}
