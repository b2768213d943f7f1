package storage

import (
	"context"
	"errors"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrProofAlreadyExists   = errors.New("proof already exists")
	ErrBlindSignatureExists = errors.New("blind signature already exists")
	ErrActiveKeysetExists   = errors.New("unit already has an active keyset")
	ErrQuoteNotUpdated      = errors.New("quote was not updated")
)

// Queries is the set of operations available both on the database
// and inside a transaction.
type Queries interface {
	GetKeysets(ctx context.Context) ([]DBKeyset, error)
	InsertKeyset(ctx context.Context, keyset DBKeyset) error
	DeactivateKeysets(ctx context.Context, unit string) error

	// InsertProofs fails with ErrProofAlreadyExists if any Y is already present.
	InsertProofs(ctx context.Context, proofs []DBProof) error
	GetProofs(ctx context.Context, Ys []string) ([]DBProof, error)
	SetProofsState(ctx context.Context, Ys []string, state nut07.State) error
	DeleteProofs(ctx context.Context, Ys []string) error
	GetProofsByMeltQuote(ctx context.Context, quoteId string) ([]DBProof, error)

	InsertMintQuote(ctx context.Context, quote MintQuote) error
	GetMintQuote(ctx context.Context, quoteId string) (MintQuote, error)
	GetMintQuoteByInvoiceId(ctx context.Context, invoiceId string) (MintQuote, error)
	// UpdateMintQuoteState moves the quote to state `to` only if it is
	// currently in state `from`. It returns ErrQuoteNotUpdated otherwise.
	UpdateMintQuoteState(ctx context.Context, quoteId string, from, to nut04.State) error
	// ExpireMintQuotes marks unpaid and paid quotes past expiry as expired.
	ExpireMintQuotes(ctx context.Context, now int64) (int64, error)

	InsertMeltQuote(ctx context.Context, quote MeltQuote) error
	GetMeltQuote(ctx context.Context, quoteId string) (MeltQuote, error)
	UpdateMeltQuote(ctx context.Context, quoteId string, from, to nut05.State, transferIds []string) error
	GetMeltQuotesByState(ctx context.Context, state nut05.State) ([]MeltQuote, error)

	// SaveBlindSignatures fails with ErrBlindSignatureExists if any B_ was already signed.
	SaveBlindSignatures(ctx context.Context, B_s []string, signatures cashu.BlindedSignatures) error
	GetBlindSignatures(ctx context.Context, B_s []string) ([]DBBlindSignature, error)

	// InsertPaymentEvent reports false if the event was already recorded.
	InsertPaymentEvent(ctx context.Context, event PaymentEvent) (bool, error)
	GetPaymentEventsByInvoice(ctx context.Context, invoiceId string) ([]PaymentEvent, error)
	// DeletePaymentEventsAfter removes events in blocks above blockNumber
	// and returns the distinct invoice ids they referenced.
	DeletePaymentEventsAfter(ctx context.Context, blockNumber uint64) ([]string, error)

	MintQuoteCounts(ctx context.Context) ([]QuoteCount, error)
	MeltQuoteCounts(ctx context.Context) ([]QuoteCount, error)
	// IssuedEcash sums the amounts signed per keyset.
	IssuedEcash(ctx context.Context) (map[string]uint64, error)
	// RedeemedEcash sums the amounts of spent proofs per keyset.
	RedeemedEcash(ctx context.Context) (map[string]uint64, error)
}

type MintDB interface {
	Queries

	// WithTx runs fn in a transaction. The transaction is committed
	// if fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(Queries) error) error
	Close() error
}

type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	MaxOrder          uint
	CreatedAt         int64
}

type DBProof struct {
	Y           string
	Amount      uint64
	Id          string
	Secret      string
	C           string
	State       nut07.State
	MeltQuoteId string
}

type DBBlindSignature struct {
	B_        string
	Signature cashu.BlindedSignature
}

type MintQuote struct {
	Id          string
	Method      string
	Unit        string
	Amount      uint64
	InvoiceId   string
	Request     string
	Fingerprint string
	State       nut04.State
	Expiry      int64
	CreatedAt   int64
}

type MeltQuote struct {
	Id          string
	Method      string
	Unit        string
	Amount      uint64
	Fee         uint64
	Request     string
	State       nut05.State
	Expiry      int64
	TransferIds []string
	CreatedAt   int64
}

// PaymentEvent is an on-chain transfer to an invoice.
// The amount is a u256 split in two 128 bit hex encoded halves.
type PaymentEvent struct {
	TxHash      string
	EventIndex  uint64
	BlockNumber uint64
	BlockId     string
	Asset       string
	InvoiceId   string
	Payee       string
	AmountLow   string
	AmountHigh  string
}

type QuoteCount struct {
	Unit  string
	State string
	Count int64
}
