package cashu

import "fmt"

type CashuErrCode int

// Error represents an error to be returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Is matches errors by code so that errors built with a custom
// detail still compare equal to the sentinel with the same code.
func (e Error) Is(target error) bool {
	switch t := target.(type) {
	case Error:
		return e.Code == t.Code
	case *Error:
		return t != nil && e.Code == t.Code
	}
	return false
}

// Internal reports whether the code identifies a failure that
// originated inside the mint and should not be shown verbatim.
func (code CashuErrCode) Internal() bool {
	return code > 0 && code < 100
}

// Common error codes
const (
	// These will never be returned in a response.
	// Using them to identify internally where
	// the error originated and log appropriately
	DBErrCode              CashuErrCode = 1
	LiquiditySourceErrCode CashuErrCode = 2
	SignerErrCode          CashuErrCode = 3
	IndexerErrCode         CashuErrCode = 4
	InternalErrCode        CashuErrCode = 5

	StandardErrCode                    CashuErrCode = 10000
	BlindedMessageAlreadySignedErrCode CashuErrCode = 10002
	InvalidProofErrCode                CashuErrCode = 10003

	ProofAlreadyUsedErrCode   CashuErrCode = 11001
	AmountConservationErrCode CashuErrCode = 11002
	ProofPendingErrCode       CashuErrCode = 11003
	UnitErrCode               CashuErrCode = 11005
	AmountLimitExceeded       CashuErrCode = 11006
	PaymentMethodErrCode      CashuErrCode = 11007
	AmountOverflowErrCode     CashuErrCode = 11008
	MultipleUnitsErrCode      CashuErrCode = 11009
	DuplicateInputsErrCode    CashuErrCode = 11011
	DuplicateOutputsErrCode   CashuErrCode = 11012
	NoInputsErrCode           CashuErrCode = 11014
	NoOutputsErrCode          CashuErrCode = 11015
	TooManyInputsErrCode      CashuErrCode = 11016
	TooManyOutputsErrCode     CashuErrCode = 11017

	UnknownKeysetErrCode  CashuErrCode = 12001
	InactiveKeysetErrCode CashuErrCode = 12002

	MintQuoteRequestNotPaidErrCode CashuErrCode = 20001
	MintQuoteAlreadyIssuedErrCode  CashuErrCode = 20002
	MintingDisabledErrCode         CashuErrCode = 20003
	QuoteNotExistErrCode           CashuErrCode = 20004
	MeltQuotePendingErrCode        CashuErrCode = 20005
	MeltQuoteAlreadyPaidErrCode    CashuErrCode = 20006
	QuoteExpiredErrCode            CashuErrCode = 20007
	MeltingDisabledErrCode         CashuErrCode = 20008
	InvalidPaymentRequestErrCode   CashuErrCode = 20009
)

var (
	StandardErr                  = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                 = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	DBErr                        = Error{Detail: "database failure", Code: DBErrCode}
	LiquiditySourceErr           = Error{Detail: "liquidity source failure", Code: LiquiditySourceErrCode}
	SignerUnavailableErr         = Error{Detail: "signer unavailable", Code: SignerErrCode}
	IndexerLagErr                = Error{Detail: "indexer is lagging behind", Code: IndexerErrCode}
	InternalErr                  = Error{Detail: "internal error", Code: InternalErrCode}
	UnknownKeysetErr             = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	PaymentMethodNotSupportedErr = Error{Detail: "payment method not supported", Code: PaymentMethodErrCode}
	UnitNotSupportedErr          = Error{Detail: "unit not supported", Code: UnitErrCode}
	MultipleUnitsErr             = Error{Detail: "inputs and outputs must share a single unit", Code: MultipleUnitsErrCode}
	InvalidBlindedMessageAmount  = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	BlindedMessageAlreadySigned  = Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	MintQuoteRequestNotPaid      = Error{Detail: "quote request has not been paid", Code: MintQuoteRequestNotPaidErrCode}
	MintQuoteAlreadyIssued       = Error{Detail: "quote already issued", Code: MintQuoteAlreadyIssuedErrCode}
	MintingDisabled              = Error{Detail: "minting is disabled", Code: MintingDisabledErrCode}
	MeltingDisabled              = Error{Detail: "melting is disabled", Code: MeltingDisabledErrCode}
	MintAmountExceededErr        = Error{Detail: "amount for minting outside of allowed range", Code: AmountLimitExceeded}
	MeltAmountExceededErr        = Error{Detail: "amount for melting outside of allowed range", Code: AmountLimitExceeded}
	OutputsAmountMismatchErr     = Error{Detail: "sum of the output amounts does not match quote amount", Code: AmountConservationErrCode}
	AmountConservationErr        = Error{Detail: "inputs and outputs amounts do not match", Code: AmountConservationErrCode}
	AmountOverflowErr            = Error{Detail: "amount overflow", Code: AmountOverflowErrCode}
	ProofAlreadyUsedErr          = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofPendingErr              = Error{Detail: "proof is pending", Code: ProofPendingErrCode}
	InvalidProofErr              = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided             = Error{Detail: "no proofs provided", Code: NoInputsErrCode}
	NoOutputsProvided            = Error{Detail: "no outputs provided", Code: NoOutputsErrCode}
	TooManyInputsErr             = Error{Detail: "too many inputs", Code: TooManyInputsErrCode}
	TooManyOutputsErr            = Error{Detail: "too many outputs", Code: TooManyOutputsErrCode}
	DuplicateProofs              = Error{Detail: "duplicate proofs", Code: DuplicateInputsErrCode}
	DuplicateOutputs             = Error{Detail: "duplicate outputs", Code: DuplicateOutputsErrCode}
	QuoteNotExistErr             = Error{Detail: "quote does not exist", Code: QuoteNotExistErrCode}
	QuoteExpiredErr              = Error{Detail: "quote has expired", Code: QuoteExpiredErrCode}
	MeltQuotePending             = Error{Detail: "quote is pending", Code: MeltQuotePendingErrCode}
	MeltQuoteAlreadyPaid         = Error{Detail: "quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
	InvalidPaymentRequestErr     = Error{Detail: "invalid payment request", Code: InvalidPaymentRequestErrCode}

	InactiveKeysetSignatureRequest = Error{Detail: "requested signature from inactive keyset", Code: InactiveKeysetErrCode}
)

// InvalidProofAt builds an InvalidProofErr pointing at the input index.
func InvalidProofAt(index int) *Error {
	return BuildCashuError(fmt.Sprintf("invalid proof at index %d", index), InvalidProofErrCode)
}
