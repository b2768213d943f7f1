// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"

	"github.com/elnosh/starknuts/cashu"
)

type State int

const (
	Unpaid State = iota
	Pending
	Paid
	Failed
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	case Failed:
		return "FAILED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	case "FAILED":
		return Failed
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

type PostMeltQuoteRequest struct {
	Method  string `json:"method"`
	Unit    string `json:"unit"`
	Request string `json:"request"`
}

type PostMeltQuoteResponse struct {
	Quote       string   `json:"quote"`
	Amount      uint64   `json:"amount"`
	Fee         uint64   `json:"fee"`
	Unit        string   `json:"unit"`
	State       State    `json:"state"`
	Expiry      uint64   `json:"expiry"`
	TransferIds []string `json:"transfer_ids,omitempty"`
}

type GetMeltQuoteStateRequest struct {
	Method string `json:"method"`
	Quote  string `json:"quote"`
}

type PostMeltRequest struct {
	Method string       `json:"method"`
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}

type PostMeltResponse struct {
	State       State    `json:"state"`
	TransferIds []string `json:"transfer_ids,omitempty"`
}
