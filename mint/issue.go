package mint

import (
	"context"
	"errors"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/cache"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/storage"
)

// MintTokens signs the outputs for a paid mint quote and marks it issued.
func (m *Mint) MintTokens(ctx context.Context, req nut04.PostMintRequest) (*nut04.PostMintResponse, error) {
	if _, err := m.source(req.Method); err != nil {
		return nil, err
	}
	if m.limits.MintingDisabled {
		return nil, cashu.MintingDisabled
	}

	key := cache.Key{Route: nut19.Mint, Fingerprint: nut19.MintFingerprint(req)}
	return cached(ctx, m, key, func(ctx context.Context) (*nut04.PostMintResponse, error) {
		return m.mintTokens(ctx, req)
	})
}

func (m *Mint) mintTokens(ctx context.Context, req nut04.PostMintRequest) (*nut04.PostMintResponse, error) {
	quote, err := m.getMintQuote(ctx, req.Method, req.Quote)
	if err != nil {
		return nil, err
	}
	if err := checkMintable(quote, time.Now()); err != nil {
		return nil, err
	}

	outputs, err := m.verifyOutputs(req.Outputs)
	if err != nil {
		return nil, err
	}
	if outputs.unit.String() != quote.Unit {
		return nil, cashu.MultipleUnitsErr
	}
	if outputs.amount != quote.Amount {
		return nil, cashu.OutputsAmountMismatchErr
	}

	var signatures cashu.BlindedSignatures
	err = m.db.WithTx(ctx, func(tx storage.Queries) error {
		// the state may have changed since it was read outside the transaction
		quote, err := tx.GetMintQuote(ctx, req.Quote)
		if err != nil {
			return err
		}
		if err := checkMintable(quote, time.Now()); err != nil {
			return err
		}
		if err := checkOutputsUnsigned(ctx, tx, outputs.B_s); err != nil {
			return err
		}

		signatures, err = m.keysets.SignBlinded(ctx, req.Outputs)
		if err != nil {
			return err
		}
		if err := tx.SaveBlindSignatures(ctx, outputs.B_s, signatures); err != nil {
			return err
		}

		err = tx.UpdateMintQuoteState(ctx, quote.Id, nut04.Paid, nut04.Issued)
		if errors.Is(err, storage.ErrQuoteNotUpdated) {
			return cashu.MintQuoteAlreadyIssued
		}
		return err
	})
	if err != nil {
		return nil, m.txError(err, "issuing mint quote")
	}

	m.publisher.Publish(pubsub.MintQuoteTopic(quote.Id), []byte(nut04.Issued.String()))
	m.logInfof("issued %v %v for mint quote %v", quote.Amount, quote.Unit, quote.Id)

	return &nut04.PostMintResponse{Signatures: signatures}, nil
}

// checkMintable fails unless the quote is paid and not expired.
func checkMintable(quote storage.MintQuote, now time.Time) error {
	expired := quote.Expiry <= now.Unix()
	switch quote.State {
	case nut04.Paid:
		if expired {
			return cashu.QuoteExpiredErr
		}
		return nil
	case nut04.Unpaid:
		if expired {
			return cashu.QuoteExpiredErr
		}
		return cashu.MintQuoteRequestNotPaid
	case nut04.Issued:
		return cashu.MintQuoteAlreadyIssued
	case nut04.Expired:
		return cashu.QuoteExpiredErr
	}
	return cashu.InternalErr
}
