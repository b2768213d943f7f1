package mint

import (
	"context"
	"errors"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/cache"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/storage"
)

// MeltTokens pays the melt quote on-chain with the value of the inputs.
//
// The inputs are first marked pending with the quote. They become spent
// only once the liquidity source reports the payment as settled and are
// released again if the payment fails.
func (m *Mint) MeltTokens(ctx context.Context, req nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	source, err := m.source(req.Method)
	if err != nil {
		return nil, err
	}
	if m.limits.MeltingDisabled {
		return nil, cashu.MeltingDisabled
	}

	key := cache.Key{Route: nut19.Melt, Fingerprint: nut19.MeltFingerprint(req)}
	return cached(ctx, m, key, func(ctx context.Context) (*nut05.PostMeltResponse, error) {
		return m.melt(ctx, source, req)
	})
}

func (m *Mint) melt(ctx context.Context, source liquidity.Source, req nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	quote, err := m.getMeltQuote(ctx, req.Method, req.Quote)
	if err != nil {
		return nil, err
	}
	if err := checkMeltable(quote, time.Now()); err != nil {
		return nil, err
	}
	unit, err := cashu.UnitFromString(quote.Unit)
	if err != nil {
		return nil, cashu.UnitNotSupportedErr
	}

	inputs, err := m.verifyInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	if inputs.unit != unit {
		return nil, cashu.MultipleUnitsErr
	}
	expected, err := addAmounts(quote.Amount, quote.Fee)
	if err != nil {
		return nil, err
	}
	if inputs.amount != expected {
		return nil, cashu.AmountConservationErr
	}

	withdraw, err := source.DeserializeWithdrawRequest(quote.Request)
	if err != nil {
		return nil, cashu.InvalidPaymentRequestErr
	}
	onChainAmount, err := source.ComputeTotalAmountExpected(withdraw, unit, quote.Amount)
	if err != nil {
		m.logErrorf("could not compute amount to pay for melt quote %v: %v", quote.Id, err)
		return nil, cashu.InvalidPaymentRequestErr
	}

	if err := m.keysets.VerifyProofs(ctx, req.Inputs); err != nil {
		return nil, err
	}

	// only the caller holding the marker may clear it, the reconciler
	// leaves the quote alone while it is set
	if _, loaded := m.meltsInFlight.LoadOrStore(quote.Id, struct{}{}); loaded {
		return nil, cashu.MeltQuotePending
	}
	defer m.meltsInFlight.Delete(quote.Id)

	err = m.db.WithTx(ctx, func(tx storage.Queries) error {
		if err := checkProofsUnused(ctx, tx, inputs.Ys); err != nil {
			return err
		}
		if err := tx.InsertProofs(ctx, dbProofs(req.Inputs, inputs.Ys, nut07.Pending, quote.Id)); err != nil {
			return err
		}
		err := tx.UpdateMeltQuote(ctx, quote.Id, nut05.Unpaid, nut05.Pending, nil)
		if errors.Is(err, storage.ErrQuoteNotUpdated) {
			return cashu.MeltQuotePending
		}
		return err
	})
	if err != nil {
		return nil, m.txError(err, "setting melt quote pending")
	}
	m.publishMeltQuote(quote.Id, nut05.Pending)

	result, err := source.ProceedToPayment(ctx, quote.Id, withdraw, onChainAmount)
	if err != nil || result.State == nut05.Failed {
		m.logErrorf("payment for melt quote %v failed: %v", quote.Id, err)
		if refundErr := m.refundMelt(ctx, quote.Id, inputs.Ys); refundErr != nil {
			return nil, refundErr
		}
		return nil, cashu.LiquiditySourceErr
	}

	transferIds := []string{result.TransferId}
	if result.State == nut05.Paid {
		if err := m.settleMelt(ctx, quote.Id, inputs.Ys, transferIds); err != nil {
			return nil, err
		}
		m.logInfof("paid melt quote %v with transfer %v", quote.Id, result.TransferId)
		return &nut05.PostMeltResponse{State: nut05.Paid, TransferIds: transferIds}, nil
	}

	// settlement is confirmed later by the reconciler
	if err := m.db.UpdateMeltQuote(ctx, quote.Id, nut05.Pending, nut05.Pending, transferIds); err != nil {
		return nil, m.dbError(err, "recording melt transfer")
	}
	m.logInfof("melt quote %v pending with transfer %v", quote.Id, result.TransferId)
	return &nut05.PostMeltResponse{State: nut05.Pending, TransferIds: transferIds}, nil
}

func checkMeltable(quote storage.MeltQuote, now time.Time) error {
	switch quote.State {
	case nut05.Pending:
		return cashu.MeltQuotePending
	case nut05.Paid:
		return cashu.MeltQuoteAlreadyPaid
	}
	if quote.Expiry <= now.Unix() {
		return cashu.QuoteExpiredErr
	}
	return nil
}

// settleMelt marks the pending inputs of the quote spent and the quote paid.
func (m *Mint) settleMelt(ctx context.Context, quoteId string, Ys []string, transferIds []string) error {
	err := m.db.WithTx(ctx, func(tx storage.Queries) error {
		if err := tx.SetProofsState(ctx, Ys, nut07.Spent); err != nil {
			return err
		}
		return tx.UpdateMeltQuote(ctx, quoteId, nut05.Pending, nut05.Paid, transferIds)
	})
	if err != nil {
		return m.dbError(err, "settling melt quote")
	}
	m.publishMeltQuote(quoteId, nut05.Paid)
	return nil
}

// refundMelt releases the pending inputs of the quote and makes the
// quote payable again.
func (m *Mint) refundMelt(ctx context.Context, quoteId string, Ys []string) error {
	err := m.db.WithTx(ctx, func(tx storage.Queries) error {
		if err := tx.DeleteProofs(ctx, Ys); err != nil {
			return err
		}
		return tx.UpdateMeltQuote(ctx, quoteId, nut05.Pending, nut05.Unpaid, nil)
	})
	if err != nil {
		return m.dbError(err, "refunding melt quote")
	}
	m.publishMeltQuote(quoteId, nut05.Unpaid)
	return nil
}

func (m *Mint) publishMeltQuote(quoteId string, state nut05.State) {
	m.publisher.Publish(pubsub.MeltQuoteTopic(quoteId), []byte(state.String()))
}
