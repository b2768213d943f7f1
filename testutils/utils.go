package testutils

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"net"
	"os"
	"sync/atomic"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut01"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/crypto"
	"github.com/elnosh/starknuts/mint"
	"github.com/elnosh/starknuts/mint/indexer"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/signer"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/elnosh/starknuts/mint/storage/sqlite"
)

const (
	STARKNET_METHOD = cashu.STARKNET_METHOD
	STRK_UNIT       = "strk"
)

// TestMint is a mint backed by sqlite, an in-process signer and the fake
// liquidity source. Deposits are simulated through its indexer.
type TestMint struct {
	*mint.Mint
	DB        storage.MintDB
	Signer    signer.Signer
	Backend   *liquidity.FakeBackend
	Indexer   *indexer.Indexer
	Publisher *pubsub.PubSub

	blockNumber atomic.Uint64
}

func MintConfig(dbpath string, limits mint.MintLimits) (*mint.Config, *liquidity.FakeBackend, error) {
	if err := os.MkdirAll(dbpath, 0750); err != nil {
		return nil, nil, err
	}
	db, err := sqlite.InitSQLite(dbpath)
	if err != nil {
		return nil, nil, err
	}

	mnemonic, err := signer.NewMnemonic()
	if err != nil {
		return nil, nil, err
	}
	localSigner, err := signer.NewLocalSigner(mnemonic)
	if err != nil {
		return nil, nil, err
	}

	backend := &liquidity.FakeBackend{}
	config := &mint.Config{
		DB:        db,
		Signer:    localSigner,
		Sources:   []liquidity.Source{backend},
		Publisher: pubsub.NewPubSub(),
		Units:     []cashu.Unit{cashu.Strk},
		MeltFee:   1,
		Limits:    limits,
		LogLevel:  mint.Disable,
	}
	return config, backend, nil
}

func CreateTestMint(dbpath string, limits mint.MintLimits) (*TestMint, error) {
	config, backend, err := MintConfig(dbpath, limits)
	if err != nil {
		return nil, err
	}
	return CreateTestMintFromConfig(config, backend)
}

func CreateTestMintFromConfig(config *mint.Config, backend *liquidity.FakeBackend) (*TestMint, error) {
	m, err := mint.LoadMint(context.Background(), *config)
	if err != nil {
		return nil, err
	}

	ix := indexer.New(config.DB, liquidity.NewRegistry(backend), nil, nil,
		config.Publisher, indexer.Config{}, m.Logger())

	return &TestMint{
		Mint:      m,
		DB:        config.DB,
		Signer:    config.Signer,
		Backend:   backend,
		Indexer:   ix,
		Publisher: config.Publisher,
	}, nil
}

// PayMintQuote records an on-chain payment of amount for the mint quote
// as if it had been seen by the indexer. It returns the block number
// the payment was included in.
func (tm *TestMint) PayMintQuote(ctx context.Context, quoteId string, unit cashu.Unit, amount uint64) (uint64, error) {
	invoiceId, err := tm.Backend.ComputeInvoiceId(quoteId)
	if err != nil {
		return 0, err
	}
	txHash, err := GenerateRandomBytes()
	if err != nil {
		return 0, err
	}

	blockNumber := tm.blockNumber.Add(1)
	onChain := liquidity.SplitU256(liquidity.ToOnChain(unit, amount))
	event := storage.PaymentEvent{
		TxHash:      hex.EncodeToString(txHash),
		EventIndex:  0,
		BlockNumber: blockNumber,
		BlockId:     fmt.Sprintf("block-%d", blockNumber),
		Asset:       string(unit.Asset()),
		InvoiceId:   invoiceId,
		Payee:       liquidity.SepoliaInvoicePaymentContract,
		AmountLow:   onChain.Low,
		AmountHigh:  onChain.High,
	}
	if err := tm.Indexer.ProcessPayments(ctx, []storage.PaymentEvent{event}); err != nil {
		return 0, err
	}
	return blockNumber, nil
}

func (tm *TestMint) ActiveKeyset(unit cashu.Unit) (nut01.Keyset, error) {
	for _, keyset := range tm.GetActiveKeys().Keysets {
		if keyset.Unit == unit.String() {
			return keyset, nil
		}
	}
	return nut01.Keyset{}, errors.New("no active keyset for unit")
}

func newBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) cashu.BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return cashu.BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

func CreateBlindedMessages(amount uint64, keysetId string) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitAmounts := cashu.AmountSplit(amount)
	splitLen := len(splitAmounts)

	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		// generate new private key r
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}

		var B_ *secp256k1.PublicKey
		var secret string
		// generate random secret until it finds valid point
		for {
			secretBytes := make([]byte, 32)
			_, err = rand.Read(secretBytes)
			if err != nil {
				return nil, nil, nil, err
			}
			secret = hex.EncodeToString(secretBytes)
			B_, r, err = crypto.BlindMessage(secret, r)
			if err == nil {
				break
			}
		}

		blindedMessages[i] = newBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func ConstructProofs(blindedSignatures cashu.BlindedSignatures,
	secrets []string, rs []*secp256k1.PrivateKey, keyset nut01.Keyset) (cashu.Proofs, error) {

	if len(blindedSignatures) != len(secrets) || len(blindedSignatures) != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(blindedSignatures))
	for i, blindedSignature := range blindedSignatures {
		C_bytes, err := hex.DecodeString(blindedSignature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		key, ok := keyset.Keys[blindedSignature.Amount]
		if !ok {
			return nil, errors.New("key not found")
		}
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, err
		}

		C := crypto.UnblindSignature(C_, rs[i], publicKey)
		proof := cashu.Proof{
			Amount: blindedSignature.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     blindedSignature.Id,
		}
		if blindedSignature.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: blindedSignature.DLEQ.E,
				S: blindedSignature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}
		proofs[i] = proof
	}

	return proofs, nil
}

// GetBlindedSignatures requests a mint quote for amount, pays it and
// mints outputs for it.
func GetBlindedSignatures(ctx context.Context, amount uint64, tm *TestMint) (
	cashu.BlindedMessages,
	[]string,
	[]*secp256k1.PrivateKey,
	cashu.BlindedSignatures,
	error) {

	// identical quote requests are answered from the response cache
	mintQuoteRequest := nut04.PostMintQuoteRequest{
		Method:      STARKNET_METHOD,
		Amount:      amount,
		Unit:        STRK_UNIT,
		Description: generateRandomString(16),
	}
	mintQuoteResponse, err := tm.RequestMintQuote(ctx, mintQuoteRequest)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("error requesting mint quote: %v", err)
	}

	keyset, err := tm.ActiveKeyset(cashu.Strk)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	blindedMessages, secrets, rs, err := CreateBlindedMessages(amount, keyset.Id)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("error creating blinded message: %v", err)
	}

	if _, err := tm.PayMintQuote(ctx, mintQuoteResponse.Quote, cashu.Strk, amount); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("error paying mint quote: %v", err)
	}

	mintTokensRequest := nut04.PostMintRequest{
		Method:  STARKNET_METHOD,
		Quote:   mintQuoteResponse.Quote,
		Outputs: blindedMessages,
	}
	mintResponse, err := tm.MintTokens(ctx, mintTokensRequest)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("got unexpected error minting tokens: %v", err)
	}

	return blindedMessages, secrets, rs, mintResponse.Signatures, nil
}

func GetValidProofsForAmount(ctx context.Context, amount uint64, tm *TestMint) (cashu.Proofs, error) {
	keyset, err := tm.ActiveKeyset(cashu.Strk)
	if err != nil {
		return nil, err
	}
	_, secrets, rs, blindedSignatures, err := GetBlindedSignatures(ctx, amount, tm)
	if err != nil {
		return nil, fmt.Errorf("error generating blinded signatures: %v", err)
	}

	proofs, err := ConstructProofs(blindedSignatures, secrets, rs, keyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	return proofs, nil
}

// WithdrawRequest builds the melt request paying amount of the on-chain
// asset to payee.
func WithdrawRequest(payee string, unit cashu.Unit, amount uint64) string {
	request, _ := json.Marshal(liquidity.WithdrawRequest{
		Payee:  payee,
		Asset:  unit.Asset(),
		Amount: liquidity.SplitU256(liquidity.ToOnChain(unit, amount)),
	})
	return string(request)
}

func GetAvailablePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func generateRandomString(length int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[mathrand.IntN(len(letters))]
	}
	return string(b)
}

func GenerateRandomBytes() ([]byte, error) {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return nil, err
	}
	return randomBytes[:], nil
}
