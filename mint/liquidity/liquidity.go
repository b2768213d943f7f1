// Package liquidity isolates the chain specific mechanics of deposits
// and withdrawals behind the Source interface.
package liquidity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrMethodNotRegistered = errors.New("no liquidity source registered for method")
	ErrPaymentNotFound     = errors.New("payment not found")
)

// PaymentResult is the outcome of a withdrawal.
// State is Pending when the transfer was submitted but is not settled yet.
type PaymentResult struct {
	State      nut05.State
	TransferId string
}

// Source is the adapter for one payment method.
type Source interface {
	Method() string
	Units() []cashu.Unit

	// ComputeInvoiceId derives the 32 byte identifier that on-chain
	// payment events carry to reference the quote.
	ComputeInvoiceId(quoteId string) (string, error)
	// GenerateDepositPayload returns the invoice id and the opaque payload
	// the client needs to pay the quote on-chain.
	GenerateDepositPayload(quoteId string, unit cashu.Unit, amount uint64, expiry int64) (string, string, error)
	// DepositAmountExpected is the on-chain amount that settles a mint quote.
	DepositAmountExpected(unit cashu.Unit, amount uint64) *uint256.Int

	DeserializeWithdrawRequest(request string) (WithdrawRequest, error)
	// WithdrawAmount is the amount of unit needed to cover the withdraw request.
	WithdrawAmount(request WithdrawRequest, unit cashu.Unit) (uint64, error)
	// ComputeTotalAmountExpected is the on-chain amount disbursed for a melt
	// quote of amount in unit. The quote fee stays with the mint.
	ComputeTotalAmountExpected(request WithdrawRequest, unit cashu.Unit, amount uint64) (*uint256.Int, error)

	ProceedToPayment(ctx context.Context, quoteId string, request WithdrawRequest, amount *uint256.Int) (PaymentResult, error)
	// PaymentStatus reports the state of a previously submitted withdrawal.
	PaymentStatus(ctx context.Context, quoteId string, transferIds []string) (PaymentResult, error)
}

// SupportsUnit reports whether source accepts unit.
func SupportsUnit(source Source, unit cashu.Unit) bool {
	for _, u := range source.Units() {
		if u == unit {
			return true
		}
	}
	return false
}

// InvoiceIdFromQuote hashes the bytes of the quote uuid.
func InvoiceIdFromQuote(quoteId string) ([32]byte, error) {
	id, err := uuid.Parse(quoteId)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid quote id: %w", err)
	}
	return sha256.Sum256(id[:]), nil
}

// Registry holds the sources of the mint keyed by method.
type Registry struct {
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	registry := &Registry{sources: make(map[string]Source, len(sources))}
	for _, source := range sources {
		registry.sources[source.Method()] = source
	}
	return registry
}

func (r *Registry) Get(method string) (Source, error) {
	source, ok := r.sources[method]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMethodNotRegistered, method)
	}
	return source, nil
}

func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.sources))
	for method := range r.sources {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
