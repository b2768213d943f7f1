// Package nut19 contains the cached response settings as defined in [NUT-19]
// together with the request fingerprints the mint uses as cache keys.
//
// [NUT-19]: https://github.com/cashubtc/nuts/blob/main/19.md
package nut19

import (
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut03"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/fxamacker/cbor/v2"
)

type Route int

const (
	MintQuote Route = iota
	Mint
	Swap
	MeltQuote
	Melt
)

var ErrUnknownPath = errors.New("unknown path")

// Path returns the route path for the method.
func (route Route) Path(method string) string {
	switch route {
	case MintQuote:
		return "/v1/mint/quote/" + method
	case Mint:
		return "/v1/mint/" + method
	case Swap:
		return "/v1/swap"
	case MeltQuote:
		return "/v1/melt/quote/" + method
	case Melt:
		return "/v1/melt/" + method
	}
	return ""
}

func (route Route) String() string {
	switch route {
	case MintQuote:
		return "mint_quote"
	case Mint:
		return "mint"
	case Swap:
		return "swap"
	case MeltQuote:
		return "melt_quote"
	case Melt:
		return "melt"
	}
	return "unknown"
}

// ParsePath is the inverse of Path.
func ParsePath(path string) (Route, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return 0, ErrUnknownPath
	}

	switch {
	case len(parts) == 2 && parts[1] == "swap":
		return Swap, nil
	case len(parts) == 4 && parts[1] == "mint" && parts[2] == "quote":
		return MintQuote, nil
	case len(parts) == 3 && parts[1] == "mint":
		return Mint, nil
	case len(parts) == 4 && parts[1] == "melt" && parts[2] == "quote":
		return MeltQuote, nil
	case len(parts) == 3 && parts[1] == "melt":
		return Melt, nil
	}
	return 0, ErrUnknownPath
}

type AcknowledgeRequest struct {
	Path        string `json:"path"`
	RequestHash string `json:"request_hash"`
}

type AcknowledgeResponse struct{}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

type output struct {
	_      struct{} `cbor:",toarray"`
	Amount uint64
	Id     string
	B_     string
}

type input struct {
	_      struct{} `cbor:",toarray"`
	Amount uint64
	Id     string
	Secret string
	C      string
}

func outputsOf(bms cashu.BlindedMessages) []output {
	outputs := make([]output, len(bms))
	for i, bm := range bms {
		outputs[i] = output{Amount: bm.Amount, Id: bm.Id, B_: bm.B_}
	}
	return outputs
}

func inputsOf(proofs cashu.Proofs) []input {
	inputs := make([]input, len(proofs))
	for i, proof := range proofs {
		inputs[i] = input{Amount: proof.Amount, Id: proof.Id, Secret: proof.Secret, C: proof.C}
	}
	return inputs
}

func fingerprint(v any) [32]byte {
	data, err := encMode.Marshal(v)
	if err != nil {
		// only plain structs of strings and integers are encoded here
		panic(err)
	}
	return sha256.Sum256(data)
}

// MintQuoteFingerprint hashes (method, amount, unit, description).
func MintQuoteFingerprint(req nut04.PostMintQuoteRequest) [32]byte {
	return fingerprint(struct {
		_           struct{} `cbor:",toarray"`
		Route       string
		Method      string
		Amount      uint64
		Unit        string
		Description string
	}{Route: MintQuote.String(), Method: req.Method, Amount: req.Amount, Unit: req.Unit, Description: req.Description})
}

// MintFingerprint hashes the quote and the outputs in request order.
func MintFingerprint(req nut04.PostMintRequest) [32]byte {
	return fingerprint(struct {
		_       struct{} `cbor:",toarray"`
		Route   string
		Method  string
		Quote   string
		Outputs []output
	}{Route: Mint.String(), Method: req.Method, Quote: req.Quote, Outputs: outputsOf(req.Outputs)})
}

func SwapFingerprint(req nut03.PostSwapRequest) [32]byte {
	return fingerprint(struct {
		_       struct{} `cbor:",toarray"`
		Route   string
		Inputs  []input
		Outputs []output
	}{Route: Swap.String(), Inputs: inputsOf(req.Inputs), Outputs: outputsOf(req.Outputs)})
}

func MeltQuoteFingerprint(req nut05.PostMeltQuoteRequest) [32]byte {
	return fingerprint(struct {
		_       struct{} `cbor:",toarray"`
		Route   string
		Method  string
		Unit    string
		Request string
	}{Route: MeltQuote.String(), Method: req.Method, Unit: req.Unit, Request: req.Request})
}

func MeltFingerprint(req nut05.PostMeltRequest) [32]byte {
	return fingerprint(struct {
		_      struct{} `cbor:",toarray"`
		Route  string
		Method string
		Quote  string
		Inputs []input
	}{Route: Melt.String(), Method: req.Method, Quote: req.Quote, Inputs: inputsOf(req.Inputs)})
}
