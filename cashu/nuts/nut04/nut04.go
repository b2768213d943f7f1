// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"

	"github.com/elnosh/starknuts/cashu"
)

type State int

const (
	Unpaid State = iota
	Paid
	Issued
	Expired
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	case Expired:
		return "EXPIRED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	case "EXPIRED":
		return Expired
	}
	return Unknown
}

func (state State) MarshalJSON() ([]byte, error) {
	return json.Marshal(state.String())
}

func (state *State) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*state = StringToState(s)
	return nil
}

type PostMintQuoteRequest struct {
	Method      string `json:"method"`
	Amount      uint64 `json:"amount"`
	Unit        string `json:"unit"`
	Description string `json:"description,omitempty"`
}

type PostMintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Amount  uint64 `json:"amount"`
	Unit    string `json:"unit"`
	State   State  `json:"state"`
	Expiry  uint64 `json:"expiry"`
}

type GetMintQuoteStateRequest struct {
	Method string `json:"method"`
	Quote  string `json:"quote"`
	// WaitSeconds lets the caller wait for the next state change
	// of an unpaid quote before the current state is returned.
	WaitSeconds uint32 `json:"wait_seconds,omitempty"`
}

type PostMintRequest struct {
	Method  string                `json:"method"`
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
