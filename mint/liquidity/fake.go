package liquidity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/holiman/uint256"
)

const (
	FakeTransferId = "cafebabe"
)

var ErrFakePaymentFailed = errors.New("fake liquidity source failed the payment")

type fakePayment struct {
	QuoteId    string
	Request    WithdrawRequest
	Amount     *uint256.Int
	State      nut05.State
	TransferId string
}

// FakeBackend is a Source that settles withdrawals in memory.
// It speaks the starknet payload formats so quotes created against
// it look like real ones.
type FakeBackend struct {
	mu       sync.Mutex
	payments []fakePayment

	// PaymentFailed makes ProceedToPayment return an error.
	PaymentFailed bool
	// PaymentPending leaves payments Pending until SettlePayment is called.
	PaymentPending bool
}

func (fb *FakeBackend) Method() string { return cashu.STARKNET_METHOD }

func (fb *FakeBackend) Units() []cashu.Unit {
	return []cashu.Unit{cashu.Strk, cashu.MilliStrk}
}

func (fb *FakeBackend) ComputeInvoiceId(quoteId string) (string, error) {
	hash, err := InvoiceIdFromQuote(quoteId)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash[:]), nil
}

func (fb *FakeBackend) GenerateDepositPayload(
	quoteId string,
	unit cashu.Unit,
	amount uint64,
	expiry int64,
) (string, string, error) {
	invoiceId, err := fb.ComputeInvoiceId(quoteId)
	if err != nil {
		return "", "", err
	}
	payload := fmt.Sprintf(`{"invoice_id":"0x%v","amount":%q,"expiry":%v}`,
		invoiceId, fb.DepositAmountExpected(unit, amount).Hex(), expiry)
	return invoiceId, payload, nil
}

func (fb *FakeBackend) DepositAmountExpected(unit cashu.Unit, amount uint64) *uint256.Int {
	return ToOnChain(unit, amount)
}

func (fb *FakeBackend) DeserializeWithdrawRequest(request string) (WithdrawRequest, error) {
	return parseWithdrawRequest(request)
}

func (fb *FakeBackend) WithdrawAmount(request WithdrawRequest, unit cashu.Unit) (uint64, error) {
	amount, err := request.Amount.Int()
	if err != nil {
		return 0, err
	}
	return FromOnChain(unit, amount)
}

func (fb *FakeBackend) ComputeTotalAmountExpected(request WithdrawRequest, unit cashu.Unit, amount uint64) (*uint256.Int, error) {
	return totalAmountExpected(request, unit, amount)
}

func (fb *FakeBackend) ProceedToPayment(
	ctx context.Context,
	quoteId string,
	request WithdrawRequest,
	amount *uint256.Int,
) (PaymentResult, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.PaymentFailed {
		return PaymentResult{}, ErrFakePaymentFailed
	}

	payment := fakePayment{
		QuoteId:    quoteId,
		Request:    request,
		Amount:     amount,
		State:      nut05.Paid,
		TransferId: FakeTransferId,
	}
	if fb.PaymentPending {
		payment.State = nut05.Pending
	}
	fb.payments = append(fb.payments, payment)

	return PaymentResult{State: payment.State, TransferId: payment.TransferId}, nil
}

func (fb *FakeBackend) PaymentStatus(ctx context.Context, quoteId string, transferIds []string) (PaymentResult, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	paymentIdx := slices.IndexFunc(fb.payments, func(p fakePayment) bool {
		return p.QuoteId == quoteId
	})
	if paymentIdx == -1 {
		return PaymentResult{}, ErrPaymentNotFound
	}

	payment := fb.payments[paymentIdx]
	return PaymentResult{State: payment.State, TransferId: payment.TransferId}, nil
}

// SettlePayment moves the payment for quoteId to state.
func (fb *FakeBackend) SettlePayment(quoteId string, state nut05.State) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	paymentIdx := slices.IndexFunc(fb.payments, func(p fakePayment) bool {
		return p.QuoteId == quoteId
	})
	if paymentIdx == -1 {
		return ErrPaymentNotFound
	}
	fb.payments[paymentIdx].State = state
	return nil
}

func (fb *FakeBackend) SetPaymentFailed(failed bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.PaymentFailed = failed
}

func (fb *FakeBackend) SetPaymentPending(pending bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.PaymentPending = pending
}
