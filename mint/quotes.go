package mint

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/cache"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/google/uuid"
)

// RequestMintQuote creates a quote to mint amount of unit once the
// deposit described by the returned request is seen on-chain.
// Identical requests within the cache TTL return the same quote.
func (m *Mint) RequestMintQuote(ctx context.Context, req nut04.PostMintQuoteRequest) (*nut04.PostMintQuoteResponse, error) {
	source, unit, err := m.sourceForUnit(req.Method, req.Unit)
	if err != nil {
		return nil, err
	}
	if m.limits.MintingDisabled {
		return nil, cashu.MintingDisabled
	}
	if req.Amount == 0 {
		return nil, cashu.BuildCashuError("amount must be greater than zero", cashu.StandardErrCode)
	}
	if settings, ok := m.limits.MintSettings[MethodUnit{Method: req.Method, Unit: unit}]; ok && !settings.allows(req.Amount) {
		return nil, cashu.MintAmountExceededErr
	}

	fingerprint := nut19.MintQuoteFingerprint(req)
	key := cache.Key{Route: nut19.MintQuote, Fingerprint: fingerprint}
	return cached(ctx, m, key, func(ctx context.Context) (*nut04.PostMintQuoteResponse, error) {
		quoteId := uuid.NewString()
		expiry := time.Now().Add(m.quoteTTL).Unix()

		invoiceId, payload, err := source.GenerateDepositPayload(quoteId, unit, req.Amount, expiry)
		if err != nil {
			m.logErrorf("could not generate deposit payload for quote %v: %v", quoteId, err)
			return nil, cashu.LiquiditySourceErr
		}

		quote := storage.MintQuote{
			Id:          quoteId,
			Method:      req.Method,
			Unit:        unit.String(),
			Amount:      req.Amount,
			InvoiceId:   invoiceId,
			Request:     payload,
			Fingerprint: hex.EncodeToString(fingerprint[:]),
			State:       nut04.Unpaid,
			Expiry:      expiry,
			CreatedAt:   time.Now().Unix(),
		}
		if err := m.db.InsertMintQuote(ctx, quote); err != nil {
			return nil, m.dbError(err, "saving mint quote")
		}
		m.logInfof("created mint quote %v for %v %v", quoteId, req.Amount, unit)

		return mintQuoteResponse(quote, time.Now()), nil
	})
}

func (m *Mint) getMintQuote(ctx context.Context, method, quoteId string) (storage.MintQuote, error) {
	quote, err := m.db.GetMintQuote(ctx, quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MintQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MintQuote{}, m.dbError(err, "getting mint quote")
	}
	if quote.Method != method {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	}
	return quote, nil
}

// GetMintQuoteState returns the state of a mint quote. If the request
// asks to wait and the quote is unpaid, it returns after the next state
// change, the wait elapses or the quote expires, whichever comes first.
func (m *Mint) GetMintQuoteState(ctx context.Context, req nut04.GetMintQuoteStateRequest) (*nut04.PostMintQuoteResponse, error) {
	if _, err := m.source(req.Method); err != nil {
		return nil, err
	}

	if req.WaitSeconds == 0 {
		quote, err := m.getMintQuote(ctx, req.Method, req.Quote)
		if err != nil {
			return nil, err
		}
		return mintQuoteResponse(quote, time.Now()), nil
	}

	if m.indexer != nil {
		if err := m.indexer.Lag(); err != nil {
			return nil, err
		}
	}

	// subscribe before reading so a payment between the read and
	// the wait is not missed
	topic := pubsub.MintQuoteTopic(req.Quote)
	subscriber := m.publisher.Subscribe(topic)
	defer m.publisher.Unsubscribe(subscriber, topic)

	quote, err := m.getMintQuote(ctx, req.Method, req.Quote)
	if err != nil {
		return nil, err
	}

	wait := time.Duration(req.WaitSeconds) * time.Second
	if wait > m.maxQuoteWait {
		wait = m.maxQuoteWait
	}
	if untilExpiry := time.Until(time.Unix(quote.Expiry, 0)); untilExpiry < wait {
		wait = untilExpiry
	}

	if quote.State == nut04.Unpaid && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case _, ok := <-subscriber.GetMessages():
			// a closed subscriber means the mint is shutting down
			if ok {
				quote, err = m.getMintQuote(ctx, req.Method, req.Quote)
				if err != nil {
					return nil, err
				}
			}
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return mintQuoteResponse(quote, time.Now()), nil
}

// mintQuoteResponse reports quotes that can no longer be minted
// because they expired as Expired.
func mintQuoteResponse(quote storage.MintQuote, now time.Time) *nut04.PostMintQuoteResponse {
	state := quote.State
	if (state == nut04.Unpaid || state == nut04.Paid) && quote.Expiry <= now.Unix() {
		state = nut04.Expired
	}
	return &nut04.PostMintQuoteResponse{
		Quote:   quote.Id,
		Request: quote.Request,
		Amount:  quote.Amount,
		Unit:    quote.Unit,
		State:   state,
		Expiry:  uint64(quote.Expiry),
	}
}

// RequestMeltQuote creates a quote to pay the withdraw request. The quote
// amount covers the on-chain transfer and the fee is charged on top.
func (m *Mint) RequestMeltQuote(ctx context.Context, req nut05.PostMeltQuoteRequest) (*nut05.PostMeltQuoteResponse, error) {
	source, unit, err := m.sourceForUnit(req.Method, req.Unit)
	if err != nil {
		return nil, err
	}
	if m.limits.MeltingDisabled {
		return nil, cashu.MeltingDisabled
	}

	withdraw, err := source.DeserializeWithdrawRequest(req.Request)
	if err != nil {
		if cashuErr, ok := asCashuError(err); ok {
			return nil, cashuErr
		}
		return nil, cashu.BuildCashuError(err.Error(), cashu.InvalidPaymentRequestErrCode)
	}

	amount, err := source.WithdrawAmount(withdraw, unit)
	if err != nil {
		if cashuErr, ok := asCashuError(err); ok {
			return nil, cashuErr
		}
		return nil, cashu.BuildCashuError(err.Error(), cashu.InvalidPaymentRequestErrCode)
	}
	if amount == 0 {
		return nil, cashu.BuildCashuError("amount must be greater than zero", cashu.InvalidPaymentRequestErrCode)
	}
	if settings, ok := m.limits.MeltSettings[MethodUnit{Method: req.Method, Unit: unit}]; ok && !settings.allows(amount) {
		return nil, cashu.MeltAmountExceededErr
	}

	fee, err := m.meltFeeFor(amount)
	if err != nil {
		return nil, err
	}
	// the inputs of the melt must be able to carry amount + fee
	total, err := addAmounts(amount, fee)
	if err != nil {
		return nil, err
	}
	if m.maxOrder < 64 && total > (uint64(1)<<m.maxOrder)-1 {
		return nil, cashu.MeltAmountExceededErr
	}

	key := cache.Key{Route: nut19.MeltQuote, Fingerprint: nut19.MeltQuoteFingerprint(req)}
	return cached(ctx, m, key, func(ctx context.Context) (*nut05.PostMeltQuoteResponse, error) {
		now := time.Now()
		quote := storage.MeltQuote{
			Id:        uuid.NewString(),
			Method:    req.Method,
			Unit:      unit.String(),
			Amount:    amount,
			Fee:       fee,
			Request:   req.Request,
			State:     nut05.Unpaid,
			Expiry:    now.Add(m.quoteTTL).Unix(),
			CreatedAt: now.Unix(),
		}
		if err := m.db.InsertMeltQuote(ctx, quote); err != nil {
			return nil, m.dbError(err, "saving melt quote")
		}
		m.logInfof("created melt quote %v for %v %v with fee %v", quote.Id, amount, unit, fee)

		return meltQuoteResponse(quote), nil
	})
}

func (m *Mint) getMeltQuote(ctx context.Context, method, quoteId string) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(ctx, quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MeltQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MeltQuote{}, m.dbError(err, "getting melt quote")
	}
	if quote.Method != method {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}
	return quote, nil
}

func (m *Mint) GetMeltQuoteState(ctx context.Context, req nut05.GetMeltQuoteStateRequest) (*nut05.PostMeltQuoteResponse, error) {
	if _, err := m.source(req.Method); err != nil {
		return nil, err
	}
	quote, err := m.getMeltQuote(ctx, req.Method, req.Quote)
	if err != nil {
		return nil, err
	}
	return meltQuoteResponse(quote), nil
}

func meltQuoteResponse(quote storage.MeltQuote) *nut05.PostMeltQuoteResponse {
	return &nut05.PostMeltQuoteResponse{
		Quote:       quote.Id,
		Amount:      quote.Amount,
		Fee:         quote.Fee,
		Unit:        quote.Unit,
		State:       quote.State,
		Expiry:      uint64(quote.Expiry),
		TransferIds: quote.TransferIds,
	}
}
