package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut12"
	"github.com/elnosh/starknuts/crypto"
	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// LocalSigner holds the master key in process. It backs the standalone
// signer binary and the in-process signer used when no signer url is set.
type LocalSigner struct {
	master *hdkeychain.ExtendedKey

	mu      sync.RWMutex
	keysets map[string]*crypto.MintKeyset
}

func NewLocalSigner(mnemonic string) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	return &LocalSigner{master: master, keysets: make(map[string]*crypto.MintKeyset)}, nil
}

// NewMnemonic generates a new 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (s *LocalSigner) DeclareKeyset(
	ctx context.Context,
	unit cashu.Unit,
	index uint32,
	maxOrder uint,
) (Keyset, error) {
	keyset, err := crypto.GenerateKeyset(s.master, unit.String(), unit.DerivationIndex(), index, maxOrder)
	if err != nil {
		return Keyset{}, err
	}

	s.mu.Lock()
	if existing, ok := s.keysets[keyset.Id]; ok {
		keyset = existing
	} else {
		s.keysets[keyset.Id] = keyset
	}
	s.mu.Unlock()

	return NewKeyset(keyset), nil
}

func (s *LocalSigner) keyset(id string) (*crypto.MintKeyset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keyset, ok := s.keysets[id]
	return keyset, ok
}

func (s *LocalSigner) SignBlindedMessages(
	ctx context.Context,
	messages cashu.BlindedMessages,
) (cashu.BlindedSignatures, error) {
	signatures := make(cashu.BlindedSignatures, len(messages))
	for i, msg := range messages {
		keyset, ok := s.keyset(msg.Id)
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}

		keyPair, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid B_", cashu.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid B_", cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, keyPair.PrivateKey)
		signatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
			DLEQ:   nut12.NewBlindSignatureDLEQ(keyPair.PrivateKey, B_, C_),
		}
	}

	return signatures, nil
}

func (s *LocalSigner) VerifyProofs(ctx context.Context, proofs cashu.Proofs) error {
	for i, proof := range proofs {
		keyset, ok := s.keyset(proof.Id)
		if !ok {
			return cashu.UnknownKeysetErr
		}

		keyPair, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofAt(i)
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidProofAt(i)
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.InvalidProofAt(i)
		}

		if !crypto.Verify(proof.Secret, keyPair.PrivateKey, C) {
			return cashu.InvalidProofAt(i)
		}
	}
	return nil
}

func (s *LocalSigner) RootPubkey(ctx context.Context) (string, error) {
	pubkey, err := s.master.ECPubKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pubkey.SerializeCompressed()), nil
}
