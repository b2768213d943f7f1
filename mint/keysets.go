package mint

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/crypto"
	"github.com/elnosh/starknuts/mint/signer"
)

// Keyset is the public view of a keyset the mint signs with.
type Keyset struct {
	Id       string
	Unit     cashu.Unit
	Active   bool
	Index    uint32
	MaxOrder uint
	// hex encoded public keys by amount
	Keys       map[uint64]string
	PublicKeys crypto.PublicKeys
}

func keysetFromSigner(declared signer.Keyset, unit cashu.Unit, active bool) (Keyset, error) {
	publicKeys, err := declared.PublicKeys()
	if err != nil {
		return Keyset{}, err
	}
	return Keyset{
		Id:         declared.Id,
		Unit:       unit,
		Active:     active,
		Index:      declared.Index,
		MaxOrder:   declared.MaxOrder,
		Keys:       declared.Keys,
		PublicKeys: publicKeys,
	}, nil
}

type keysetSnapshot struct {
	byId   map[string]Keyset
	active map[cashu.Unit]Keyset
}

// KeysetRegistry is the in-memory view of the keysets. Readers never
// block, rotation swaps in a new snapshot.
type KeysetRegistry struct {
	snapshot atomic.Pointer[keysetSnapshot]
	signer   signer.Signer
}

func NewKeysetRegistry(signer signer.Signer, keysets []Keyset) *KeysetRegistry {
	registry := &KeysetRegistry{signer: signer}
	registry.Replace(keysets)
	return registry
}

// Replace swaps the set of keysets known to the registry.
func (r *KeysetRegistry) Replace(keysets []Keyset) {
	snapshot := &keysetSnapshot{
		byId:   make(map[string]Keyset, len(keysets)),
		active: make(map[cashu.Unit]Keyset),
	}
	for _, keyset := range keysets {
		snapshot.byId[keyset.Id] = keyset
		if keyset.Active {
			snapshot.active[keyset.Unit] = keyset
		}
	}
	r.snapshot.Store(snapshot)
}

func (r *KeysetRegistry) ActiveKeysetFor(unit cashu.Unit) (Keyset, error) {
	keyset, ok := r.snapshot.Load().active[unit]
	if !ok {
		return Keyset{}, cashu.UnitNotSupportedErr
	}
	return keyset, nil
}

func (r *KeysetRegistry) GetKeys(id string) (Keyset, error) {
	keyset, ok := r.snapshot.Load().byId[id]
	if !ok {
		return Keyset{}, cashu.UnknownKeysetErr
	}
	return keyset, nil
}

// ListKeysets returns all keysets ordered by unit and index.
func (r *KeysetRegistry) ListKeysets() []Keyset {
	snapshot := r.snapshot.Load()
	keysets := make([]Keyset, 0, len(snapshot.byId))
	for _, keyset := range snapshot.byId {
		keysets = append(keysets, keyset)
	}
	sort.Slice(keysets, func(i, j int) bool {
		if keysets[i].Unit != keysets[j].Unit {
			return keysets[i].Unit < keysets[j].Unit
		}
		return keysets[i].Index < keysets[j].Index
	})
	return keysets
}

func (r *KeysetRegistry) ActiveKeysets() []Keyset {
	keysets := []Keyset{}
	for _, keyset := range r.ListKeysets() {
		if keyset.Active {
			keysets = append(keysets, keyset)
		}
	}
	return keysets
}

// SignBlinded asks the signer for signatures on messages that have
// already been validated against the registry.
func (r *KeysetRegistry) SignBlinded(ctx context.Context, messages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	signatures, err := r.signer.SignBlindedMessages(ctx, messages)
	if err != nil {
		return nil, signerError(err)
	}
	return signatures, nil
}

func (r *KeysetRegistry) VerifyProofs(ctx context.Context, proofs cashu.Proofs) error {
	if err := r.signer.VerifyProofs(ctx, proofs); err != nil {
		return signerError(err)
	}
	return nil
}
