// Package cashu contains the core structs and logic
// of the Cashu protocol as spoken by the Starknet mint.
package cashu

import (
	"encoding/hex"
	"errors"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Unit int

const (
	Strk Unit = iota
	MilliStrk

	STARKNET_METHOD = "starknet"
)

type Asset string

const (
	StrkAsset Asset = "strk"
)

func (unit Unit) String() string {
	switch unit {
	case Strk:
		return "strk"
	case MilliStrk:
		return "millistrk"
	default:
		return "unknown"
	}
}

// Asset returns the on-chain token backing the unit.
func (unit Unit) Asset() Asset {
	return StrkAsset
}

// ScaleOrder is the power of 10 that converts one unit
// into the smallest on-chain denomination of its asset.
func (unit Unit) ScaleOrder() uint {
	switch unit {
	case MilliStrk:
		return 15
	default:
		return 18
	}
}

// DerivationIndex is the index used for deriving keysets for the unit.
func (unit Unit) DerivationIndex() uint32 {
	return uint32(unit)
}

var ErrInvalidUnit = errors.New("invalid unit")

func UnitFromString(unit string) (Unit, error) {
	switch unit {
	case "strk":
		return Strk, nil
	case "millistrk":
		return MilliStrk, nil
	default:
		return 0, ErrInvalidUnit
	}
}

// Cashu BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

func SortBlindedMessages(blindedMessages BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) {
	// sort messages, secrets and rs
	for i := 0; i < len(blindedMessages)-1; i++ {
		for j := i + 1; j < len(blindedMessages); j++ {
			if blindedMessages[i].Amount > blindedMessages[j].Amount {
				blindedMessages[i], blindedMessages[j] = blindedMessages[j], blindedMessages[i]
				secrets[i], secrets[j] = secrets[j], secrets[i]
				rs[i], rs[j] = rs[j], rs[i]
			}
		}
	}
}

type BlindedMessages []BlindedMessage

// Amount returns the total amount of the blinded messages.
// It returns AmountOverflowErr if the sum does not fit in 64 bits.
func (bm BlindedMessages) Amount() (uint64, error) {
	var totalAmount uint64
	for _, msg := range bm {
		var carry uint64
		totalAmount, carry = bits.Add64(totalAmount, msg.Amount, 0)
		if carry != 0 {
			return 0, AmountOverflowErr
		}
	}
	return totalAmount, nil
}

// Cashu BlindedSignature. See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
	// doing pointer here so that omitempty works.
	// an empty struct would still get marshalled
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
	// doing pointer here so that omitempty works.
	// an empty struct would still get marshalled
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// Amount returns the total amount from the array of Proof.
// It returns AmountOverflowErr if the sum does not fit in 64 bits.
func (proofs Proofs) Amount() (uint64, error) {
	var totalAmount uint64
	for _, proof := range proofs {
		var carry uint64
		totalAmount, carry = bits.Add64(totalAmount, proof.Amount, 0)
		if carry != 0 {
			return 0, AmountOverflowErr
		}
	}
	return totalAmount, nil
}

// Given an amount, it returns list of amounts e.g 13 -> [1, 4, 8]
// that can be used to build blinded messages or split operations.
// from nutshell implementation
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

// IsPowerOfTwo reports whether amount is a valid denomination.
func IsPowerOfTwo(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}

func CheckDuplicateProofs(proofs Proofs) bool {
	proofsMap := make(map[string]bool)

	for _, proof := range proofs {
		if proofsMap[proof.Secret] {
			return true
		} else {
			proofsMap[proof.Secret] = true
		}
	}

	return false
}

func CheckDuplicateBlindedMessages(bms BlindedMessages) bool {
	seen := make(map[string]bool)
	for _, bm := range bms {
		if seen[bm.B_] {
			return true
		}
		seen[bm.B_] = true
	}
	return false
}
