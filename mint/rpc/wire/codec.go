// Package wire holds the message codec and the error mapping shared by
// every gRPC surface of the mint: the node and admin services, the signer
// and the cashier.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients select with
// grpc.CallContentSubtype(CodecName).
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic(err)
	}
	encoding.RegisterCodec(Codec{})
}

// Codec implements encoding.Codec over CBOR. Messages are plain Go structs
// whose json tags double as CBOR keys.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal %T: %w", v, err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string {
	return CodecName
}

// Marshal encodes v with the same canonical encoding used on the wire.
func Marshal(v any) ([]byte, error) {
	return Codec{}.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return Codec{}.Unmarshal(data, v)
}
