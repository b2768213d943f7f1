package nut19

import (
	"testing"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut03"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path          string
		expected      Route
		expectedError error
	}{
		{path: MintQuote.Path("starknet"), expected: MintQuote},
		{path: Mint.Path("starknet"), expected: Mint},
		{path: Swap.Path("starknet"), expected: Swap},
		{path: MeltQuote.Path("starknet"), expected: MeltQuote},
		{path: Melt.Path("starknet"), expected: Melt},
		{path: "/v1/keysets/abc/def", expectedError: ErrUnknownPath},
		{path: "/v2/swap", expectedError: ErrUnknownPath},
	}

	for _, test := range tests {
		route, err := ParsePath(test.path)
		if err != test.expectedError {
			t.Fatalf("expected error '%v' but got '%v'", test.expectedError, err)
		}
		if err == nil && route != test.expected {
			t.Fatalf("expected '%v' but got '%v'", test.expected, route)
		}
	}
}

func TestMintFingerprint(t *testing.T) {
	outputs := cashu.BlindedMessages{
		{Amount: 1, Id: "00aabbccddeeff00", B_: "02aa"},
		{Amount: 2, Id: "00aabbccddeeff00", B_: "02bb"},
	}
	req := nut04.PostMintRequest{Method: "starknet", Quote: "quote-1", Outputs: outputs}

	if MintFingerprint(req) != MintFingerprint(req) {
		t.Fatal("expected equal fingerprints for identical requests")
	}

	reordered := nut04.PostMintRequest{
		Method:  "starknet",
		Quote:   "quote-1",
		Outputs: cashu.BlindedMessages{outputs[1], outputs[0]},
	}
	if MintFingerprint(req) == MintFingerprint(reordered) {
		t.Fatal("expected output order to change the fingerprint")
	}

	otherQuote := req
	otherQuote.Quote = "quote-2"
	if MintFingerprint(req) == MintFingerprint(otherQuote) {
		t.Fatal("expected quote id to change the fingerprint")
	}
}

func TestFingerprintsAreRouteScoped(t *testing.T) {
	swap := nut03.PostSwapRequest{}
	mintQuote := nut04.PostMintQuoteRequest{}
	if SwapFingerprint(swap) == MintQuoteFingerprint(mintQuote) {
		t.Fatal("expected different fingerprints for different routes")
	}

	a := nut04.PostMintQuoteRequest{Method: "starknet", Amount: 10, Unit: "strk"}
	b := a
	b.Description = "coffee"
	if MintQuoteFingerprint(a) == MintQuoteFingerprint(b) {
		t.Fatal("expected description to change the fingerprint")
	}
}
