// Package indexer follows the on-chain payment events of the invoice
// payment contract and moves mint quotes to PAID once enough has been
// deposited for them.
package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/holiman/uint256"
)

const (
	DefaultMaxReorgDepth        = 10
	DefaultReconnectMaxInterval = 30 * time.Second
)

type Config struct {
	// block to start from when no cursor was stored
	StartBlock           uint64
	MaxReorgDepth        uint64
	ReconnectMaxInterval time.Duration
}

type Indexer struct {
	db        storage.MintDB
	sources   *liquidity.Registry
	dial      Dialer
	cursor    *CursorStore
	publisher *pubsub.PubSub
	config    Config
	logger    *slog.Logger

	mu        sync.Mutex
	lastBlock uint64
	tip       uint64

	connected atomic.Bool
}

func New(
	db storage.MintDB,
	sources *liquidity.Registry,
	dial Dialer,
	cursor *CursorStore,
	publisher *pubsub.PubSub,
	config Config,
	logger *slog.Logger,
) *Indexer {
	if config.MaxReorgDepth == 0 {
		config.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if config.ReconnectMaxInterval == 0 {
		config.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		db:        db,
		sources:   sources,
		dial:      dial,
		cursor:    cursor,
		publisher: publisher,
		config:    config,
		logger:    logger,
		lastBlock: config.StartBlock,
	}
}

// Lag returns IndexerLagErr while the indexer is not connected to its upstream.
func (ix *Indexer) Lag() error {
	if !ix.connected.Load() {
		return cashu.IndexerLagErr
	}
	return nil
}

// Run consumes the upstream stream until ctx is done, reconnecting
// with exponential backoff when the stream fails.
func (ix *Indexer) Run(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxInterval = ix.config.ReconnectMaxInterval
	expBackoff.MaxElapsedTime = 0

	consume := func() error {
		err := ix.consume(ctx, expBackoff)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		ix.logErrorf("payment event stream failed: %v. reconnecting in %v", err, wait)
	}

	err := backoff.RetryNotify(consume, backoff.WithContext(expBackoff, ctx), notify)
	if errors.Is(err, context.Canceled) {
		ix.logInfof("indexer stopped")
		return nil
	}
	return err
}

func (ix *Indexer) startCursor() (uint64, error) {
	if ix.cursor != nil {
		block, ok, err := ix.cursor.Get()
		if err != nil {
			return 0, fmt.Errorf("could not read indexer cursor: %v", err)
		}
		if ok {
			return block, nil
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastBlock, nil
}

func (ix *Indexer) saveCursor(block uint64) error {
	ix.mu.Lock()
	ix.lastBlock = block
	if block > ix.tip {
		ix.tip = block
	}
	ix.mu.Unlock()

	if ix.cursor != nil {
		return ix.cursor.Set(block)
	}
	return nil
}

func (ix *Indexer) consume(ctx context.Context, expBackoff *backoff.ExponentialBackOff) error {
	cursor, err := ix.startCursor()
	if err != nil {
		return err
	}

	stream, err := ix.dial(ctx, cursor)
	if err != nil {
		return err
	}
	defer stream.Close()

	ix.connected.Store(true)
	defer ix.connected.Store(false)
	expBackoff.Reset()
	ix.logInfof("connected to payment event stream at block %v", cursor)

	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if err := ix.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
}

func (ix *Indexer) handleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case DataMessage:
		events, err := paymentEvents(msg)
		if err != nil {
			// a malformed event would be replayed forever, skip the block
			ix.logErrorf("skipping block %v with invalid payment events: %v", msg.BlockNumber, err)
		} else if err := ix.ProcessPayments(ctx, events); err != nil {
			return err
		}
		return ix.saveCursor(msg.BlockNumber)

	case InvalidateMessage:
		if err := ix.Invalidate(ctx, msg.BlockNumber); err != nil {
			return err
		}
		return ix.saveCursor(msg.BlockNumber)

	default:
		ix.logDebugf("ignoring payment event stream message of type '%v'", msg.Type)
		return nil
	}
}

// NormalizeInvoiceId returns the invoice id as 64 lowercase hex characters.
func NormalizeInvoiceId(invoiceId string) (string, error) {
	value, err := liquidity.ParseHex(invoiceId)
	if err != nil {
		return "", err
	}
	b := value.Bytes32()
	return hex.EncodeToString(b[:]), nil
}

func paymentEvents(msg Message) ([]storage.PaymentEvent, error) {
	events := make([]storage.PaymentEvent, len(msg.Events))
	for i, event := range msg.Events {
		invoiceId, err := NormalizeInvoiceId(event.InvoiceId)
		if err != nil {
			return nil, fmt.Errorf("invalid invoice id in tx %v: %v", event.TxHash, err)
		}
		if _, err := event.Amount.Int(); err != nil {
			return nil, fmt.Errorf("invalid amount in tx %v: %v", event.TxHash, err)
		}
		events[i] = storage.PaymentEvent{
			TxHash:      event.TxHash,
			EventIndex:  event.EventIndex,
			BlockNumber: msg.BlockNumber,
			BlockId:     msg.BlockId,
			Asset:       event.Asset,
			InvoiceId:   invoiceId,
			Payee:       event.Payee,
			AmountLow:   event.Amount.Low,
			AmountHigh:  event.Amount.High,
		}
	}
	return events, nil
}

// ProcessPayments records events and marks the mint quotes they
// fully pay as PAID. Events already recorded are skipped.
func (ix *Indexer) ProcessPayments(ctx context.Context, events []storage.PaymentEvent) error {
	for _, event := range events {
		var paidQuote *storage.MintQuote
		err := ix.db.WithTx(ctx, func(tx storage.Queries) error {
			inserted, err := tx.InsertPaymentEvent(ctx, event)
			if err != nil {
				return fmt.Errorf("could not save payment event: %w", err)
			}
			if !inserted {
				return nil
			}

			quote, err := tx.GetMintQuoteByInvoiceId(ctx, event.InvoiceId)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					ix.logDebugf("payment event %v:%v does not match any quote", event.TxHash, event.EventIndex)
					return nil
				}
				return err
			}
			if quote.State != nut04.Unpaid {
				return nil
			}

			paid, err := ix.isFullyPaid(ctx, tx, quote)
			if err != nil || !paid {
				return err
			}

			if err := tx.UpdateMintQuoteState(ctx, quote.Id, nut04.Unpaid, nut04.Paid); err != nil {
				// quote expired in the meantime
				if errors.Is(err, storage.ErrQuoteNotUpdated) {
					return nil
				}
				return err
			}
			quote.State = nut04.Paid
			paidQuote = &quote
			return nil
		})
		if err != nil {
			return err
		}

		if paidQuote != nil {
			ix.logInfof("mint quote '%v' is PAID", paidQuote.Id)
			ix.publish(*paidQuote)
		}
	}
	return nil
}

// Invalidate removes the payment events above block and reverts the
// quotes that are no longer fully paid. Issued quotes are never reverted.
func (ix *Indexer) Invalidate(ctx context.Context, block uint64) error {
	ix.mu.Lock()
	tip := ix.tip
	ix.mu.Unlock()
	if tip > block && tip-block > ix.config.MaxReorgDepth {
		ix.logErrorf("reorg of depth %v at block %v exceeds max reorg depth %v", tip-block, block, ix.config.MaxReorgDepth)
	}

	var reverted []storage.MintQuote
	err := ix.db.WithTx(ctx, func(tx storage.Queries) error {
		invoiceIds, err := tx.DeletePaymentEventsAfter(ctx, block)
		if err != nil {
			return fmt.Errorf("could not delete payment events: %w", err)
		}

		for _, invoiceId := range invoiceIds {
			quote, err := tx.GetMintQuoteByInvoiceId(ctx, invoiceId)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}

			switch quote.State {
			case nut04.Paid:
			case nut04.Issued:
				ix.logErrorf("reorg at block %v removed payments of already issued mint quote '%v'", block, quote.Id)
				continue
			default:
				continue
			}

			paid, err := ix.isFullyPaid(ctx, tx, quote)
			if err != nil {
				return err
			}
			if paid {
				continue
			}
			if err := tx.UpdateMintQuoteState(ctx, quote.Id, nut04.Paid, nut04.Unpaid); err != nil {
				if errors.Is(err, storage.ErrQuoteNotUpdated) {
					continue
				}
				return err
			}
			quote.State = nut04.Unpaid
			reverted = append(reverted, quote)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.tip = block
	ix.mu.Unlock()

	for _, quote := range reverted {
		ix.logInfof("mint quote '%v' reverted to UNPAID after reorg at block %v", quote.Id, block)
		ix.publish(quote)
	}
	return nil
}

func (ix *Indexer) isFullyPaid(ctx context.Context, tx storage.Queries, quote storage.MintQuote) (bool, error) {
	source, err := ix.sources.Get(quote.Method)
	if err != nil {
		return false, err
	}
	unit, err := cashu.UnitFromString(quote.Unit)
	if err != nil {
		return false, err
	}
	expected := source.DepositAmountExpected(unit, quote.Amount)

	events, err := tx.GetPaymentEventsByInvoice(ctx, quote.InvoiceId)
	if err != nil {
		return false, err
	}

	total := new(uint256.Int)
	for _, event := range events {
		if event.Asset != string(unit.Asset()) {
			continue
		}
		amount, err := liquidity.U256{Low: event.AmountLow, High: event.AmountHigh}.Int()
		if err != nil {
			return false, err
		}
		if _, overflow := total.AddOverflow(total, amount); overflow {
			return true, nil
		}
	}

	return !total.Lt(expected), nil
}

func (ix *Indexer) publish(quote storage.MintQuote) {
	if ix.publisher == nil {
		return
	}
	ix.publisher.Publish(pubsub.MintQuoteTopic(quote.Id), []byte(quote.State.String()))
}

func (ix *Indexer) logInfof(format string, args ...any) {
	ix.log(slog.LevelInfo, format, args...)
}

func (ix *Indexer) logErrorf(format string, args ...any) {
	ix.log(slog.LevelError, format, args...)
}

func (ix *Indexer) logDebugf(format string, args ...any) {
	ix.log(slog.LevelDebug, format, args...)
}

func (ix *Indexer) log(level slog.Level, format string, args ...any) {
	if !ix.logger.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	// skip runtime.Callers, log and the level helper
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = ix.logger.Handler().Handle(context.Background(), r)
}
