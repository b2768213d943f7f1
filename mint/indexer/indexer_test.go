package indexer

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/elnosh/starknuts/mint/storage/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupDB(t *testing.T) *sqlite.SQLiteDB {
	db, err := sqlite.InitSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newIndexer(t *testing.T, db storage.MintDB, dial Dialer, bus *pubsub.PubSub) *Indexer {
	registry := liquidity.NewRegistry(&liquidity.FakeBackend{})
	return New(db, registry, dial, nil, bus, Config{MaxReorgDepth: 10}, discardLogger)
}

func createQuote(t *testing.T, db storage.MintDB, amount uint64) storage.MintQuote {
	quoteId := uuid.NewString()
	invoiceId, err := (&liquidity.FakeBackend{}).ComputeInvoiceId(quoteId)
	require.NoError(t, err)

	quote := storage.MintQuote{
		Id:        quoteId,
		Method:    cashu.STARKNET_METHOD,
		Unit:      cashu.Strk.String(),
		Amount:    amount,
		InvoiceId: invoiceId,
		Request:   "{}",
		State:     nut04.Unpaid,
		Expiry:    time.Now().Add(time.Hour).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	require.NoError(t, db.InsertMintQuote(context.Background(), quote))
	return quote
}

func paymentEvent(invoiceId string, block uint64, index uint64, strk uint64) storage.PaymentEvent {
	amount := liquidity.SplitU256(liquidity.ToOnChain(cashu.Strk, strk))
	return storage.PaymentEvent{
		TxHash:      "0x" + strings.Repeat("ab", 31) + hex.EncodeToString([]byte{byte(block)}),
		EventIndex:  index,
		BlockNumber: block,
		BlockId:     "0xb10c",
		Asset:       string(cashu.StrkAsset),
		InvoiceId:   invoiceId,
		Payee:       "0x0537",
		AmountLow:   amount.Low,
		AmountHigh:  amount.High,
	}
}

func quoteState(t *testing.T, db storage.MintDB, quoteId string) nut04.State {
	quote, err := db.GetMintQuote(context.Background(), quoteId)
	require.NoError(t, err)
	return quote.State
}

func TestProcessPaymentsPaid(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	bus := pubsub.NewPubSub()
	ix := newIndexer(t, db, nil, bus)

	quote := createQuote(t, db, 100)
	sub := bus.Subscribe(pubsub.MintQuoteTopic(quote.Id))

	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{paymentEvent(quote.InvoiceId, 1, 0, 100)}))
	require.Equal(t, nut04.Paid, quoteState(t, db, quote.Id))

	select {
	case msg := <-sub.GetMessages():
		require.Equal(t, nut04.Paid.String(), string(msg.Payload()))
	case <-time.After(time.Second):
		t.Fatal("expected quote state notification")
	}
}

func TestProcessPaymentsPartial(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	ix := newIndexer(t, db, nil, nil)
	quote := createQuote(t, db, 10)

	first := paymentEvent(quote.InvoiceId, 1, 0, 4)
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{first}))
	require.Equal(t, nut04.Unpaid, quoteState(t, db, quote.Id))

	// replaying the same event is not counted twice
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{first, first}))
	require.Equal(t, nut04.Unpaid, quoteState(t, db, quote.Id))

	second := paymentEvent(quote.InvoiceId, 2, 0, 6)
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{second}))
	require.Equal(t, nut04.Paid, quoteState(t, db, quote.Id))

	events, err := db.GetPaymentEventsByInvoice(ctx, quote.InvoiceId)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestProcessPaymentsOtherAsset(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	ix := newIndexer(t, db, nil, nil)
	quote := createQuote(t, db, 10)

	event := paymentEvent(quote.InvoiceId, 1, 0, 10)
	event.Asset = "eth"
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{event}))
	require.Equal(t, nut04.Unpaid, quoteState(t, db, quote.Id))
}

func TestProcessPaymentsUnknownInvoice(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	ix := newIndexer(t, db, nil, nil)

	unknown := paymentEvent(strings.Repeat("11", 32), 1, 0, 10)
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{unknown}))

	events, err := db.GetPaymentEventsByInvoice(ctx, unknown.InvoiceId)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	bus := pubsub.NewPubSub()
	ix := newIndexer(t, db, nil, bus)

	reverted := createQuote(t, db, 10)
	issued := createQuote(t, db, 10)
	untouched := createQuote(t, db, 10)

	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{
		paymentEvent(reverted.InvoiceId, 5, 0, 5),
		paymentEvent(reverted.InvoiceId, 7, 0, 5),
		paymentEvent(issued.InvoiceId, 7, 1, 10),
		paymentEvent(untouched.InvoiceId, 4, 0, 10),
	}))
	require.Equal(t, nut04.Paid, quoteState(t, db, reverted.Id))
	require.Equal(t, nut04.Paid, quoteState(t, db, issued.Id))
	require.Equal(t, nut04.Paid, quoteState(t, db, untouched.Id))

	require.NoError(t, db.UpdateMintQuoteState(ctx, issued.Id, nut04.Paid, nut04.Issued))

	sub := bus.Subscribe(pubsub.MintQuoteTopic(reverted.Id))
	require.NoError(t, ix.Invalidate(ctx, 6))

	require.Equal(t, nut04.Unpaid, quoteState(t, db, reverted.Id))
	require.Equal(t, nut04.Issued, quoteState(t, db, issued.Id))
	require.Equal(t, nut04.Paid, quoteState(t, db, untouched.Id))

	events, err := db.GetPaymentEventsByInvoice(ctx, reverted.InvoiceId)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(5), events[0].BlockNumber)

	select {
	case msg := <-sub.GetMessages():
		require.Equal(t, nut04.Unpaid.String(), string(msg.Payload()))
	case <-time.After(time.Second):
		t.Fatal("expected quote state notification")
	}

	// the event lost in the reorg gets included again
	require.NoError(t, ix.ProcessPayments(ctx, []storage.PaymentEvent{paymentEvent(reverted.InvoiceId, 8, 0, 5)}))
	require.Equal(t, nut04.Paid, quoteState(t, db, reverted.Id))
}

func TestNormalizeInvoiceId(t *testing.T) {
	id, err := NormalizeInvoiceId("0x0abc")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("0", 61)+"abc", id)

	_, err = NormalizeInvoiceId("0xnothex")
	require.Error(t, err)
}

// chanStream serves messages from a channel.
type chanStream struct {
	messages chan Message
	closed   chan struct{}
	once     sync.Once
}

func (s *chanStream) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-s.messages:
		if !ok {
			return Message{}, ErrStreamClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestRun(t *testing.T) {
	db := setupDB(t)
	quote := createQuote(t, db, 3)
	cursor, err := OpenCursorStore(t.TempDir())
	require.NoError(t, err)
	defer cursor.Close()

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	messages := make(chan Message, 4)
	var dials []uint64
	var mu sync.Mutex
	dial := func(ctx context.Context, from uint64) (Stream, error) {
		mu.Lock()
		dials = append(dials, from)
		mu.Unlock()
		return &chanStream{messages: messages, closed: make(chan struct{})}, nil
	}

	ix := New(db, liquidity.NewRegistry(&liquidity.FakeBackend{}), dial, cursor, nil, Config{StartBlock: 42}, discardLogger)
	require.ErrorIs(t, ix.Lag(), cashu.IndexerLagErr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- ix.Run(ctx)
	}()

	amount := liquidity.SplitU256(liquidity.ToOnChain(cashu.Strk, 3))
	messages <- Message{
		Type:        DataMessage,
		BlockNumber: 43,
		BlockId:     "0xb10c",
		Events: []Event{{
			TxHash:    "0xfeed",
			Asset:     string(cashu.StrkAsset),
			InvoiceId: "0x" + quote.InvoiceId,
			Payee:     "0x0537",
			Amount:    amount,
		}},
	}

	require.Eventually(t, func() bool {
		return quoteState(t, db, quote.Id) == nut04.Paid
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ix.Lag())

	require.Eventually(t, func() bool {
		block, ok, err := cursor.Get()
		return err == nil && ok && block == 43
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after cancel")
	}

	mu.Lock()
	require.Equal(t, []uint64{42}, dials)
	mu.Unlock()
}

func TestCursorStore(t *testing.T) {
	dir := t.TempDir()
	cursor, err := OpenCursorStore(dir)
	require.NoError(t, err)

	_, ok, err := cursor.Get()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cursor.Set(1234))
	require.NoError(t, cursor.Close())

	cursor, err = OpenCursorStore(dir)
	require.NoError(t, err)
	defer cursor.Close()

	block, ok, err := cursor.Get()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1234), block)
}

func TestWebsocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(Message{Type: InvalidateMessage, BlockNumber: 9})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	dial := WebsocketDialer("ws"+strings.TrimPrefix(server.URL, "http"), "secret")
	ctx := context.Background()
	stream, err := dial(ctx, 7)
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, InvalidateMessage, msg.Type)
	require.Equal(t, uint64(9), msg.BlockNumber)
	r := <-requests
	require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
	require.Equal(t, "7", r.URL.Query().Get("cursor"))

	_, err = stream.Recv(ctx)
	require.ErrorIs(t, err, ErrStreamClosed)
}
