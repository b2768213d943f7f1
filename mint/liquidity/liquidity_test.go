package liquidity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const testCashierAccount = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

func TestU256Split(t *testing.T) {
	allOnes := new(uint256.Int).SetAllOne()
	tests := []struct {
		value *uint256.Int
		low   string
		high  string
	}{
		{value: uint256.NewInt(0), low: "0x0", high: "0x0"},
		{value: uint256.NewInt(0xbabe), low: "0xbabe", high: "0x0"},
		{
			value: new(uint256.Int).Or(new(uint256.Int).Lsh(uint256.NewInt(0xcafe), 128), uint256.NewInt(0xbabe)),
			low:   "0xbabe",
			high:  "0xcafe",
		},
		{value: allOnes, low: "0xffffffffffffffffffffffffffffffff", high: "0xffffffffffffffffffffffffffffffff"},
	}

	for _, test := range tests {
		split := SplitU256(test.value)
		if split.Low != test.low || split.High != test.high {
			t.Fatalf("expected '%v/%v' but got '%v/%v'", test.low, test.high, split.Low, split.High)
		}
		joined, err := split.Int()
		if err != nil {
			t.Fatalf("unexpected error joining u256: %v", err)
		}
		if !joined.Eq(test.value) {
			t.Fatalf("expected '%v' but got '%v'", test.value.Hex(), joined.Hex())
		}
	}

	tooBig := U256{Low: "0x1" + "00000000000000000000000000000000", High: "0x0"}
	if _, err := tooBig.Int(); !errors.Is(err, ErrInvalidU256Part) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInvalidU256Part, err)
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		valid    bool
	}{
		{input: "0x1", expected: 1, valid: true},
		{input: "0x0001", expected: 1, valid: true},
		{input: "ff", expected: 255, valid: true},
		{input: "0x", valid: false},
		{input: "0xzz", valid: false},
		// 65 digits
		{input: "0x10000000000000000000000000000000000000000000000000000000000000000", valid: false},
	}

	for _, test := range tests {
		value, err := ParseHex(test.input)
		if !test.valid {
			if err == nil {
				t.Fatalf("expected error parsing '%v'", test.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error parsing '%v': %v", test.input, err)
		}
		if value.Uint64() != test.expected {
			t.Fatalf("expected '%v' but got '%v'", test.expected, value.Uint64())
		}
	}
}

func TestIsValidAddress(t *testing.T) {
	limit := new(uint256.Int).Lsh(uint256.NewInt(1), 251)
	tests := []struct {
		address  *uint256.Int
		expected bool
	}{
		{address: uint256.NewInt(0), expected: false},
		{address: uint256.NewInt(1), expected: false},
		{address: uint256.NewInt(2), expected: true},
		{address: new(uint256.Int).SubUint64(limit, 1), expected: true},
		{address: limit, expected: false},
	}

	for _, test := range tests {
		if IsValidAddress(test.address) != test.expected {
			t.Fatalf("expected '%v' for address '%v'", test.expected, test.address.Hex())
		}
	}
}

func TestUnitConversion(t *testing.T) {
	strk := ToOnChain(cashu.Strk, 3)
	if strk.Dec() != "3000000000000000000" {
		t.Fatalf("expected '%v' but got '%v'", "3000000000000000000", strk.Dec())
	}
	milli := ToOnChain(cashu.MilliStrk, 3)
	if milli.Dec() != "3000000000000000" {
		t.Fatalf("expected '%v' but got '%v'", "3000000000000000", milli.Dec())
	}

	amount, err := FromOnChain(cashu.Strk, strk)
	if err != nil || amount != 3 {
		t.Fatalf("expected '3' but got '%v' (%v)", amount, err)
	}

	// rounds up so the quote covers the on-chain amount
	amount, err = FromOnChain(cashu.Strk, new(uint256.Int).AddUint64(strk, 1))
	if err != nil || amount != 4 {
		t.Fatalf("expected '4' but got '%v' (%v)", amount, err)
	}

	huge := new(uint256.Int).SetAllOne()
	if _, err := FromOnChain(cashu.Strk, huge); !errors.Is(err, cashu.AmountOverflowErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.AmountOverflowErr, err)
	}
}

func testStarknet(t *testing.T, cashier Cashier) *Starknet {
	config := DefaultStarknetConfig()
	config.CashierAccountAddress = testCashierAccount
	source, err := NewStarknet(config, cashier)
	if err != nil {
		t.Fatalf("unexpected error creating starknet source: %v", err)
	}
	return source
}

func TestStarknetDepositPayload(t *testing.T) {
	source := testStarknet(t, nil)
	quoteId := uuid.NewString()

	invoiceId, payload, err := source.GenerateDepositPayload(quoteId, cashu.Strk, 100, 1700000000)
	if err != nil {
		t.Fatalf("unexpected error generating payload: %v", err)
	}
	if len(invoiceId) != 64 {
		t.Fatalf("expected 32 byte hex invoice id but got '%v'", invoiceId)
	}

	again, err := source.ComputeInvoiceId(quoteId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != invoiceId {
		t.Fatalf("expected '%v' but got '%v'", invoiceId, again)
	}

	b, _ := hex.DecodeString(invoiceId)
	if !new(uint256.Int).SetBytes(b).Lt(feltPrime) {
		t.Fatal("expected invoice id to be a valid felt")
	}

	var deposit DepositPayload
	if err := json.Unmarshal([]byte(payload), &deposit); err != nil {
		t.Fatalf("unexpected error decoding payload: %v", err)
	}
	if deposit.InvoiceId != "0x"+invoiceId {
		t.Fatalf("expected '%v' but got '%v'", "0x"+invoiceId, deposit.InvoiceId)
	}
	if deposit.Payee != testCashierAccount {
		t.Fatalf("expected '%v' but got '%v'", testCashierAccount, deposit.Payee)
	}
	if deposit.TokenContractAddress != SepoliaStrkTokenAddress {
		t.Fatalf("expected '%v' but got '%v'", SepoliaStrkTokenAddress, deposit.TokenContractAddress)
	}
	amount, err := deposit.Amount.Int()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Eq(ToOnChain(cashu.Strk, 100)) {
		t.Fatalf("expected '%v' but got '%v'", ToOnChain(cashu.Strk, 100).Dec(), amount.Dec())
	}

	if _, _, err := source.GenerateDepositPayload("not-a-uuid", cashu.Strk, 1, 0); err == nil {
		t.Fatal("expected error for invalid quote id")
	}
}

func withdrawRequest(payee string, amount *uint256.Int) string {
	request, _ := json.Marshal(WithdrawRequest{Payee: payee, Asset: cashu.StrkAsset, Amount: SplitU256(amount)})
	return string(request)
}

func TestStarknetDeserializeWithdrawRequest(t *testing.T) {
	source := testStarknet(t, nil)
	oneStrk := ToOnChain(cashu.Strk, 1)

	tests := []struct {
		request string
		valid   bool
	}{
		{request: withdrawRequest("0x0537", oneStrk), valid: true},
		{request: withdrawRequest("0x1", oneStrk), valid: false},
		{request: withdrawRequest("0x0800000000000000000000000000000000000000000000000000000000000000", oneStrk), valid: false},
		{request: withdrawRequest("0x0537", uint256.NewInt(0)), valid: false},
		{request: `{"payee":"0x0537","asset":"eth","amount":{"low":"0x1","high":"0x0"}}`, valid: false},
		{request: "not json", valid: false},
	}

	for _, test := range tests {
		_, err := source.DeserializeWithdrawRequest(test.request)
		if test.valid && err != nil {
			t.Fatalf("unexpected error for request '%v': %v", test.request, err)
		}
		if !test.valid {
			if !errors.Is(err, cashu.InvalidPaymentRequestErr) {
				t.Fatalf("expected invalid payment request error for '%v' but got '%v'", test.request, err)
			}
		}
	}
}

func TestStarknetWithdrawAmount(t *testing.T) {
	source := testStarknet(t, nil)
	onChain := new(uint256.Int).AddUint64(ToOnChain(cashu.MilliStrk, 250), 1)
	request, err := source.DeserializeWithdrawRequest(withdrawRequest("0x0537", onChain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	amount, err := source.WithdrawAmount(request, cashu.MilliStrk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 251 {
		t.Fatalf("expected '%v' but got '%v'", 251, amount)
	}

	total, err := source.ComputeTotalAmountExpected(request, cashu.MilliStrk, amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Eq(onChain) {
		t.Fatalf("expected '%v' but got '%v'", onChain.Dec(), total.Dec())
	}

	if _, err := source.ComputeTotalAmountExpected(request, cashu.MilliStrk, 250); err == nil {
		t.Fatal("expected error when quote amount does not cover request")
	}
}

type testCashier struct {
	withdrawals map[string]*CashierWithdrawRequest
	fail        bool
	// returned by WithdrawStatus when set
	status *CashierWithdrawStatusResponse
}

func (c *testCashier) Config(context.Context, *CashierConfigRequest) (*CashierConfigResponse, error) {
	return &CashierConfigResponse{ChainId: SepoliaChainId}, nil
}

func (c *testCashier) Withdraw(_ context.Context, req *CashierWithdrawRequest) (*CashierWithdrawResponse, error) {
	if c.fail {
		return nil, errors.New("cashier out of funds")
	}
	c.withdrawals[hex.EncodeToString(req.InvoiceId)] = req
	return &CashierWithdrawResponse{TxHash: []byte{0xca, 0xfe}}, nil
}

func (c *testCashier) WithdrawStatus(_ context.Context, req *CashierWithdrawStatusRequest) (*CashierWithdrawStatusResponse, error) {
	if c.status != nil {
		return c.status, nil
	}
	if _, ok := c.withdrawals[hex.EncodeToString(req.InvoiceId)]; !ok {
		return &CashierWithdrawStatusResponse{Status: WithdrawFailed}, nil
	}
	return &CashierWithdrawStatusResponse{Status: WithdrawSucceeded, TxHash: []byte{0xca, 0xfe}}, nil
}

func startTestCashier(t *testing.T, cashier *testCashier) *CashierClient {
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterCashierServer(server, cashier)
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("could not create client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewCashierClient(conn)
}

func TestStarknetProceedToPayment(t *testing.T) {
	ctx := context.Background()
	cashier := &testCashier{withdrawals: make(map[string]*CashierWithdrawRequest)}
	client := startTestCashier(t, cashier)
	source := testStarknet(t, client)

	config, err := client.Config(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting cashier config: %v", err)
	}
	if config.ChainId != SepoliaChainId {
		t.Fatalf("expected '%v' but got '%v'", SepoliaChainId, config.ChainId)
	}

	quoteId := uuid.NewString()
	amount := ToOnChain(cashu.Strk, 5)
	request, err := source.DeserializeWithdrawRequest(withdrawRequest("0x0537", amount))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := source.ProceedToPayment(ctx, quoteId, request, amount)
	if err != nil {
		t.Fatalf("unexpected error proceeding to payment: %v", err)
	}
	if result.State != nut05.Pending {
		t.Fatalf("expected '%v' but got '%v'", nut05.Pending, result.State)
	}
	if result.TransferId != "0xcafe" {
		t.Fatalf("expected '%v' but got '%v'", "0xcafe", result.TransferId)
	}

	invoiceId, _ := source.ComputeInvoiceId(quoteId)
	withdrawal, ok := cashier.withdrawals[invoiceId]
	if !ok {
		t.Fatal("expected cashier to receive withdrawal for invoice")
	}
	if !new(uint256.Int).SetBytes(withdrawal.Amount).Eq(amount) {
		t.Fatalf("expected '%v' but got '%x'", amount.Dec(), withdrawal.Amount)
	}
	if withdrawal.Amount[0] == 0 {
		t.Fatal("expected amount without leading zero bytes")
	}

	status, err := source.PaymentStatus(ctx, quoteId, []string{result.TransferId})
	if err != nil {
		t.Fatalf("unexpected error getting status: %v", err)
	}
	if status.State != nut05.Paid {
		t.Fatalf("expected '%v' but got '%v'", nut05.Paid, status.State)
	}

	cashier.fail = true
	if _, err := source.ProceedToPayment(ctx, uuid.NewString(), request, amount); err == nil {
		t.Fatal("expected error when cashier fails")
	}
}

func TestStarknetPaymentStatus(t *testing.T) {
	ctx := context.Background()
	cashier := &testCashier{withdrawals: make(map[string]*CashierWithdrawRequest)}
	source := testStarknet(t, startTestCashier(t, cashier))
	txHash := []byte{0xca, 0xfe}

	tests := []struct {
		name          string
		status        CashierWithdrawStatusResponse
		expectedState nut05.State
		notFound      bool
		expectErr     bool
	}{
		{
			name:          "succeeded",
			status:        CashierWithdrawStatusResponse{Status: WithdrawSucceeded, TxHash: txHash},
			expectedState: nut05.Paid,
		},
		{
			name:          "pending",
			status:        CashierWithdrawStatusResponse{Status: WithdrawPending, TxHash: txHash},
			expectedState: nut05.Pending,
		},
		{
			name:          "failed",
			status:        CashierWithdrawStatusResponse{Status: WithdrawFailed},
			expectedState: nut05.Failed,
		},
		{
			name:      "no record",
			status:    CashierWithdrawStatusResponse{},
			notFound:  true,
			expectErr: true,
		},
		{
			name:      "unknown status with tx hash",
			status:    CashierWithdrawStatusResponse{Status: "SUBMITTED", TxHash: txHash},
			expectErr: true,
		},
		{
			name:      "unknown status without tx hash",
			status:    CashierWithdrawStatusResponse{Status: "QUEUED"},
			expectErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status := test.status
			cashier.status = &status

			result, err := source.PaymentStatus(ctx, uuid.NewString(), nil)
			if errors.Is(err, ErrPaymentNotFound) != test.notFound {
				t.Fatalf("expected payment not found '%v' but got error '%v'", test.notFound, err)
			}
			if test.expectErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error getting status: %v", err)
			}
			if result.State != test.expectedState {
				t.Fatalf("expected '%v' but got '%v'", test.expectedState, result.State)
			}
		})
	}
}

func TestFakeBackend(t *testing.T) {
	ctx := context.Background()
	fake := &FakeBackend{}
	registry := NewRegistry(fake)

	source, err := registry.Get(cashu.STARKNET_METHOD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !SupportsUnit(source, cashu.MilliStrk) {
		t.Fatal("expected fake backend to support millistrk")
	}
	if _, err := registry.Get("lightning"); !errors.Is(err, ErrMethodNotRegistered) {
		t.Fatalf("expected error '%v' but got '%v'", ErrMethodNotRegistered, err)
	}

	quoteId := uuid.NewString()
	request, err := source.DeserializeWithdrawRequest(withdrawRequest("0x0537", ToOnChain(cashu.Strk, 2)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := source.ProceedToPayment(ctx, quoteId, request, ToOnChain(cashu.Strk, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != nut05.Paid || result.TransferId != FakeTransferId {
		t.Fatalf("expected paid payment with transfer id '%v' but got '%v'", FakeTransferId, result)
	}

	fake.SetPaymentPending(true)
	pendingQuote := uuid.NewString()
	result, _ = source.ProceedToPayment(ctx, pendingQuote, request, ToOnChain(cashu.Strk, 2))
	if result.State != nut05.Pending {
		t.Fatalf("expected '%v' but got '%v'", nut05.Pending, result.State)
	}
	if err := fake.SettlePayment(pendingQuote, nut05.Paid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, _ := source.PaymentStatus(ctx, pendingQuote, nil)
	if status.State != nut05.Paid {
		t.Fatalf("expected '%v' but got '%v'", nut05.Paid, status.State)
	}

	fake.SetPaymentFailed(true)
	if _, err := source.ProceedToPayment(ctx, uuid.NewString(), request, ToOnChain(cashu.Strk, 2)); !errors.Is(err, ErrFakePaymentFailed) {
		t.Fatalf("expected error '%v' but got '%v'", ErrFakePaymentFailed, err)
	}

	if _, err := source.PaymentStatus(ctx, uuid.NewString(), nil); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", ErrPaymentNotFound, err)
	}
}
