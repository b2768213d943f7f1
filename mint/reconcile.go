package mint

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/mint/liquidity"
)

// ReconcilePendingMelts resolves melt quotes left pending by asking their
// liquidity source for the state of the payment. Settled payments spend
// the inputs. Failed ones and ones the source has no record of refund
// them, any other error leaves the quote pending for the next round.
func (m *Mint) ReconcilePendingMelts(ctx context.Context) error {
	quotes, err := m.db.GetMeltQuotesByState(ctx, nut05.Pending)
	if err != nil {
		return m.dbError(err, "getting pending melt quotes")
	}

	for _, quote := range quotes {
		if _, inFlight := m.meltsInFlight.Load(quote.Id); inFlight {
			continue
		}
		source, err := m.sources.Get(quote.Method)
		if err != nil {
			m.logErrorf("no liquidity source for pending melt quote %v with method %v", quote.Id, quote.Method)
			continue
		}

		proofs, err := m.db.GetProofsByMeltQuote(ctx, quote.Id)
		if err != nil {
			return m.dbError(err, "getting pending proofs")
		}
		Ys := make([]string, len(proofs))
		for i, proof := range proofs {
			Ys[i] = proof.Y
		}

		result, err := source.PaymentStatus(ctx, quote.Id, quote.TransferIds)
		switch {
		case errors.Is(err, liquidity.ErrPaymentNotFound):
			m.logInfof("payment for melt quote %v not found, refunding inputs", quote.Id)
			if err := m.refundMelt(ctx, quote.Id, Ys); err != nil {
				return err
			}
		case err != nil:
			m.logErrorf("could not get payment status for melt quote %v: %v", quote.Id, err)
		case result.State == nut05.Paid:
			transferIds := quote.TransferIds
			if result.TransferId != "" && !slices.Contains(transferIds, result.TransferId) {
				transferIds = append(transferIds, result.TransferId)
			}
			if err := m.settleMelt(ctx, quote.Id, Ys, transferIds); err != nil {
				return err
			}
			m.logInfof("melt quote %v settled", quote.Id)
		case result.State == nut05.Failed:
			m.logInfof("payment for melt quote %v failed, refunding inputs", quote.Id)
			if err := m.refundMelt(ctx, quote.Id, Ys); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExpireQuotes marks mint quotes that can no longer be minted as expired.
func (m *Mint) ExpireQuotes(ctx context.Context) error {
	expired, err := m.db.ExpireMintQuotes(ctx, time.Now().Unix())
	if err != nil {
		return m.dbError(err, "expiring mint quotes")
	}
	if expired > 0 {
		m.logInfof("expired %v mint quotes", expired)
	}
	return nil
}

// RunReconciler reconciles pending melts and expires quotes every
// interval until ctx is done.
func (m *Mint) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.ReconcilePendingMelts(ctx); err != nil {
			m.logErrorf("error reconciling pending melts: %v", err)
		}
		if err := m.ExpireQuotes(ctx); err != nil {
			m.logErrorf("error expiring quotes: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
