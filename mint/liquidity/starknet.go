package liquidity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/holiman/uint256"
)

const (
	SepoliaChainId = "SN_SEPOLIA"

	SepoliaStrkTokenAddress       = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
	SepoliaInvoicePaymentContract = "0x03ea260a0d19a073d2b5b97e7673605e164fbe2660d76953254060dda0c38124"
)

// WithdrawRequest is the melt payment request of a client:
// send amount of asset to payee.
type WithdrawRequest struct {
	Payee  string      `json:"payee"`
	Asset  cashu.Asset `json:"asset"`
	Amount U256        `json:"amount"`
}

// DepositPayload is what a client needs to pay a mint quote
// through the invoice payment contract.
type DepositPayload struct {
	InvoiceId              string `json:"invoice_id"`
	PaymentContractAddress string `json:"payment_contract_address"`
	TokenContractAddress   string `json:"token_contract_address"`
	Amount                 U256   `json:"amount"`
	Payee                  string `json:"payee"`
	Expiry                 int64  `json:"expiry"`
}

type StarknetConfig struct {
	ChainId string
	// account receiving deposits and disbursing withdrawals
	CashierAccountAddress  string
	InvoicePaymentContract string
	// token contract address per asset
	TokenContracts map[cashu.Asset]string
	Units          []cashu.Unit
}

func DefaultStarknetConfig() StarknetConfig {
	return StarknetConfig{
		ChainId:                SepoliaChainId,
		InvoicePaymentContract: SepoliaInvoicePaymentContract,
		TokenContracts:         map[cashu.Asset]string{cashu.StrkAsset: SepoliaStrkTokenAddress},
		Units:                  []cashu.Unit{cashu.Strk, cashu.MilliStrk},
	}
}

// Cashier is the withdrawal side of the Starknet source.
type Cashier interface {
	Withdraw(context.Context, *CashierWithdrawRequest) (*CashierWithdrawResponse, error)
	WithdrawStatus(ctx context.Context, invoiceId []byte) (*CashierWithdrawStatusResponse, error)
}

type Starknet struct {
	config  StarknetConfig
	cashier Cashier
}

func NewStarknet(config StarknetConfig, cashier Cashier) (*Starknet, error) {
	address, err := ParseHex(config.CashierAccountAddress)
	if err != nil || !IsValidAddress(address) {
		return nil, fmt.Errorf("invalid cashier account address '%v'", config.CashierAccountAddress)
	}
	for asset, contract := range config.TokenContracts {
		address, err := ParseHex(contract)
		if err != nil || !IsValidAddress(address) {
			return nil, fmt.Errorf("invalid token contract address for %v: '%v'", asset, contract)
		}
	}
	if len(config.Units) == 0 {
		config.Units = []cashu.Unit{cashu.Strk}
	}
	return &Starknet{config: config, cashier: cashier}, nil
}

func (s *Starknet) Method() string {
	return cashu.STARKNET_METHOD
}

func (s *Starknet) Units() []cashu.Unit {
	return s.config.Units
}

func (s *Starknet) invoiceId(quoteId string) (*uint256.Int, error) {
	hash, err := InvoiceIdFromQuote(quoteId)
	if err != nil {
		return nil, err
	}
	return FeltFromBytes(hash[:]), nil
}

func (s *Starknet) ComputeInvoiceId(quoteId string) (string, error) {
	felt, err := s.invoiceId(quoteId)
	if err != nil {
		return "", err
	}
	b := felt.Bytes32()
	return hex.EncodeToString(b[:]), nil
}

func (s *Starknet) GenerateDepositPayload(
	quoteId string,
	unit cashu.Unit,
	amount uint64,
	expiry int64,
) (string, string, error) {
	token, ok := s.config.TokenContracts[unit.Asset()]
	if !ok {
		return "", "", cashu.UnitNotSupportedErr
	}
	invoiceId, err := s.ComputeInvoiceId(quoteId)
	if err != nil {
		return "", "", err
	}

	payload := DepositPayload{
		InvoiceId:              "0x" + invoiceId,
		PaymentContractAddress: s.config.InvoicePaymentContract,
		TokenContractAddress:   token,
		Amount:                 SplitU256(s.DepositAmountExpected(unit, amount)),
		Payee:                  s.config.CashierAccountAddress,
		Expiry:                 expiry,
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	return invoiceId, string(jsonPayload), nil
}

func (s *Starknet) DepositAmountExpected(unit cashu.Unit, amount uint64) *uint256.Int {
	return ToOnChain(unit, amount)
}

func (s *Starknet) DeserializeWithdrawRequest(request string) (WithdrawRequest, error) {
	withdrawRequest, err := parseWithdrawRequest(request)
	if err != nil {
		return WithdrawRequest{}, err
	}
	if _, ok := s.config.TokenContracts[withdrawRequest.Asset]; !ok {
		return WithdrawRequest{}, cashu.BuildCashuError(
			fmt.Sprintf("asset '%v' not supported", withdrawRequest.Asset),
			cashu.InvalidPaymentRequestErrCode,
		)
	}
	return withdrawRequest, nil
}

func parseWithdrawRequest(request string) (WithdrawRequest, error) {
	var withdrawRequest WithdrawRequest
	if err := json.Unmarshal([]byte(request), &withdrawRequest); err != nil {
		return WithdrawRequest{}, cashu.BuildCashuError(
			fmt.Sprintf("invalid payment request: %v", err),
			cashu.InvalidPaymentRequestErrCode,
		)
	}

	payee, err := ParseHex(withdrawRequest.Payee)
	if err != nil || !IsValidAddress(payee) {
		return WithdrawRequest{}, cashu.BuildCashuError(
			fmt.Sprintf("invalid starknet address: '%v'", withdrawRequest.Payee),
			cashu.InvalidPaymentRequestErrCode,
		)
	}

	amount, err := withdrawRequest.Amount.Int()
	if err != nil || amount.IsZero() {
		return WithdrawRequest{}, cashu.BuildCashuError("invalid amount in payment request", cashu.InvalidPaymentRequestErrCode)
	}
	return withdrawRequest, nil
}

func (s *Starknet) WithdrawAmount(request WithdrawRequest, unit cashu.Unit) (uint64, error) {
	if request.Asset != unit.Asset() {
		return 0, cashu.BuildCashuError(
			fmt.Sprintf("asset '%v' cannot be paid with unit '%v'", request.Asset, unit),
			cashu.UnitErrCode,
		)
	}
	amount, err := request.Amount.Int()
	if err != nil {
		return 0, err
	}
	return FromOnChain(unit, amount)
}

func (s *Starknet) ComputeTotalAmountExpected(request WithdrawRequest, unit cashu.Unit, amount uint64) (*uint256.Int, error) {
	return totalAmountExpected(request, unit, amount)
}

func totalAmountExpected(request WithdrawRequest, unit cashu.Unit, amount uint64) (*uint256.Int, error) {
	requested, err := request.Amount.Int()
	if err != nil {
		return nil, err
	}
	if requested.Gt(ToOnChain(unit, amount)) {
		return nil, fmt.Errorf("requested on-chain amount %v exceeds quote amount %v %v", requested.Dec(), amount, unit)
	}
	return requested, nil
}

func (s *Starknet) ProceedToPayment(
	ctx context.Context,
	quoteId string,
	request WithdrawRequest,
	amount *uint256.Int,
) (PaymentResult, error) {
	invoiceId, err := s.invoiceId(quoteId)
	if err != nil {
		return PaymentResult{}, err
	}
	payee, err := ParseHex(request.Payee)
	if err != nil {
		return PaymentResult{}, err
	}
	invoiceBytes := invoiceId.Bytes32()
	payeeBytes := payee.Bytes32()

	resp, err := s.cashier.Withdraw(ctx, &CashierWithdrawRequest{
		InvoiceId: invoiceBytes[:],
		Asset:     string(request.Asset),
		Amount:    amount.Bytes(),
		Payee:     payeeBytes[:],
	})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to trigger withdraw from starknet cashier: %w", err)
	}

	return PaymentResult{
		State:      nut05.Pending,
		TransferId: "0x" + hex.EncodeToString(resp.TxHash),
	}, nil
}

func (s *Starknet) PaymentStatus(ctx context.Context, quoteId string, transferIds []string) (PaymentResult, error) {
	invoiceId, err := s.invoiceId(quoteId)
	if err != nil {
		return PaymentResult{}, err
	}
	invoiceBytes := invoiceId.Bytes32()

	resp, err := s.cashier.WithdrawStatus(ctx, invoiceBytes[:])
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to get withdraw status from starknet cashier: %w", err)
	}

	// an empty answer means the cashier never received the withdrawal
	if resp.Status == "" && len(resp.TxHash) == 0 {
		return PaymentResult{}, ErrPaymentNotFound
	}

	result := PaymentResult{}
	if len(resp.TxHash) > 0 {
		result.TransferId = "0x" + hex.EncodeToString(resp.TxHash)
	}
	switch resp.Status {
	case WithdrawSucceeded:
		result.State = nut05.Paid
	case WithdrawFailed:
		result.State = nut05.Failed
	case WithdrawPending:
		result.State = nut05.Pending
	default:
		return PaymentResult{}, fmt.Errorf("unknown withdraw status '%v'", resp.Status)
	}
	return result, nil
}
