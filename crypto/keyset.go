package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// amounts above 2^32 do not fit the int64 columns used to persist them
const DefaultMaxOrder = 32

var ErrInvalidMaxOrder = errors.New("max order must be between 1 and 64")

type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	UnitIndex         uint32
	DerivationPathIdx uint32
	MaxOrder          uint
	Keys              map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// PublicKeys maps an amount to the public key that signs it.
type PublicKeys map[uint64]*secp256k1.PublicKey

// DeriveKeysetPath derives m/0'/unitIndex'/keysetIndex' from the master key.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, unitIndex, index uint32) (*hdkeychain.ExtendedKey, error) {
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	unitPath, err := purpose.Derive(hdkeychain.HardenedKeyStart + unitIndex)
	if err != nil {
		return nil, err
	}

	return unitPath.Derive(hdkeychain.HardenedKeyStart + index)
}

// GenerateKeyset derives one key per power of two below 2^maxOrder.
// The result only depends on the master key, the unit index and the keyset index.
func GenerateKeyset(
	master *hdkeychain.ExtendedKey,
	unit string,
	unitIndex uint32,
	index uint32,
	maxOrder uint,
) (*MintKeyset, error) {
	if maxOrder == 0 || maxOrder > 64 {
		return nil, ErrInvalidMaxOrder
	}

	keysetPath, err := DeriveKeysetPath(master, unitIndex, index)
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	for i := uint(0); i < maxOrder; i++ {
		amount := uint64(1) << i
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, err
		}
		privateKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}
		keys[amount] = KeyPair{PrivateKey: privateKey, PublicKey: privateKey.PubKey()}
	}

	keyset := &MintKeyset{
		Unit:              unit,
		Active:            true,
		UnitIndex:         unitIndex,
		DerivationPathIdx: index,
		MaxOrder:          maxOrder,
		Keys:              keys,
	}
	keyset.Id = DeriveKeysetId(keyset.PublicKeys())

	return keyset, nil
}

// DeriveKeysetId returns "00" followed by the first 14 hex characters of
// SHA256 over the compressed public keys concatenated in ascending amount order.
func DeriveKeysetId(keyset PublicKeys) string {
	amounts := make([]uint64, 0, len(keyset))
	for amount := range keyset {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool {
		return amounts[i] < amounts[j]
	})

	pubkeys := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keyset[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

func (ks *MintKeyset) PublicKeys() PublicKeys {
	pubkeys := make(PublicKeys, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = key.PublicKey
	}
	return pubkeys
}

// DerivePublic returns the hex encoded public keys by amount.
func (ks *MintKeyset) DerivePublic() map[uint64]string {
	pubkeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubkeys
}
