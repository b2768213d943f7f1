// Package signer is the boundary between the mint and the holder of its
// root secret. The mint only ever sees public keys, blind signatures and
// verification results.
package signer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/crypto"
)

type Signer interface {
	// DeclareKeyset derives the keyset for (unit, index) and makes it
	// available for signing. Declaring the same keyset twice is a no-op.
	DeclareKeyset(ctx context.Context, unit cashu.Unit, index uint32, maxOrder uint) (Keyset, error)
	// SignBlindedMessages signs every message with the key for its amount
	// in its keyset and attaches a DLEQ proof.
	SignBlindedMessages(ctx context.Context, messages cashu.BlindedMessages) (cashu.BlindedSignatures, error)
	// VerifyProofs returns an error built with cashu.InvalidProofAt for
	// the first proof that does not verify.
	VerifyProofs(ctx context.Context, proofs cashu.Proofs) error
	RootPubkey(ctx context.Context) (string, error)
}

// Keyset is the public part of a keyset.
type Keyset struct {
	Id       string            `json:"id"`
	Unit     string            `json:"unit"`
	Index    uint32            `json:"index"`
	MaxOrder uint              `json:"max_order"`
	Keys     map[uint64]string `json:"keys"`
}

func NewKeyset(mintKeyset *crypto.MintKeyset) Keyset {
	return Keyset{
		Id:       mintKeyset.Id,
		Unit:     mintKeyset.Unit,
		Index:    mintKeyset.DerivationPathIdx,
		MaxOrder: mintKeyset.MaxOrder,
		Keys:     mintKeyset.DerivePublic(),
	}
}

// PublicKeys parses the hex encoded keys.
func (ks Keyset) PublicKeys() (crypto.PublicKeys, error) {
	pubkeys := make(crypto.PublicKeys, len(ks.Keys))
	for amount, key := range ks.Keys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %v: %v", amount, err)
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %v: %v", amount, err)
		}
		pubkeys[amount] = pubkey
	}
	return pubkeys, nil
}

// VerifyId recomputes the keyset id from its keys.
func (ks Keyset) VerifyId() bool {
	pubkeys, err := ks.PublicKeys()
	if err != nil {
		return false
	}
	return crypto.DeriveKeysetId(pubkeys) == ks.Id
}
