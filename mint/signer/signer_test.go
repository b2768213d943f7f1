package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut12"
	"github.com/elnosh/starknuts/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type blindedOutput struct {
	message cashu.BlindedMessage
	secret  string
	r       *secp256k1.PrivateKey
}

func blindOutputs(t *testing.T, keysetId string, amounts []uint64) []blindedOutput {
	outputs := make([]blindedOutput, len(amounts))
	for i, amount := range amounts {
		secretBytes := make([]byte, 32)
		secretBytes[0] = byte(i + 1)
		secret := hex.EncodeToString(secretBytes)
		B_, r, err := crypto.BlindMessage(secret, nil)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}
		outputs[i] = blindedOutput{message: cashu.NewBlindedMessage(keysetId, amount, B_), secret: secret, r: r}
	}
	return outputs
}

func unblind(t *testing.T, keyset Keyset, outputs []blindedOutput, signatures cashu.BlindedSignatures) cashu.Proofs {
	pubkeys, err := keyset.PublicKeys()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, sig := range signatures {
		C_bytes, _ := hex.DecodeString(sig.C_)
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		C := crypto.UnblindSignature(C_, outputs[i].r, pubkeys[sig.Amount])
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: outputs[i].secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs
}

func testSigner(t *testing.T, ctx context.Context, signer Signer) {
	keyset, err := signer.DeclareKeyset(ctx, cashu.Strk, 0, 16)
	if err != nil {
		t.Fatalf("unexpected error declaring keyset: %v", err)
	}
	if len(keyset.Keys) != 16 {
		t.Fatalf("expected '%v' keys but got '%v'", 16, len(keyset.Keys))
	}
	if !keyset.VerifyId() {
		t.Fatalf("keyset id '%v' does not match keys", keyset.Id)
	}

	again, err := signer.DeclareKeyset(ctx, cashu.Strk, 0, 16)
	if err != nil {
		t.Fatalf("unexpected error declaring keyset: %v", err)
	}
	if again.Id != keyset.Id {
		t.Fatalf("expected '%v' but got '%v'", keyset.Id, again.Id)
	}

	outputs := blindOutputs(t, keyset.Id, []uint64{64, 32, 4})
	messages := make(cashu.BlindedMessages, len(outputs))
	for i, output := range outputs {
		messages[i] = output.message
	}

	signatures, err := signer.SignBlindedMessages(ctx, messages)
	if err != nil {
		t.Fatalf("unexpected error signing: %v", err)
	}
	if len(signatures) != 3 {
		t.Fatalf("expected '%v' signatures but got '%v'", 3, len(signatures))
	}

	pubkeys, _ := keyset.PublicKeys()
	if !nut12.VerifyBlindSignaturesDLEQ(messages, signatures, map[string]crypto.PublicKeys{keyset.Id: pubkeys}) {
		t.Fatal("invalid DLEQ proofs on signatures")
	}

	proofs := unblind(t, keyset, outputs, signatures)
	if err := signer.VerifyProofs(ctx, proofs); err != nil {
		t.Fatalf("unexpected error verifying proofs: %v", err)
	}

	proofs[1].Secret = "tampered"
	err = signer.VerifyProofs(ctx, proofs)
	if !errors.Is(err, cashu.InvalidProofErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.InvalidProofErr, err)
	}
	if err.Error() != "invalid proof at index 1" {
		t.Fatalf("expected '%v' but got '%v'", "invalid proof at index 1", err.Error())
	}

	unknown := cashu.BlindedMessages{{Amount: 1, Id: "00ffffffffffffff", B_: messages[0].B_}}
	if _, err := signer.SignBlindedMessages(ctx, unknown); !errors.Is(err, cashu.UnknownKeysetErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.UnknownKeysetErr, err)
	}

	badAmount := cashu.BlindedMessages{{Amount: 1 << 20, Id: keyset.Id, B_: messages[0].B_}}
	if _, err := signer.SignBlindedMessages(ctx, badAmount); !errors.Is(err, cashu.InvalidBlindedMessageAmount) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.InvalidBlindedMessageAmount, err)
	}

	rootPubkey, err := signer.RootPubkey(ctx)
	if err != nil || len(rootPubkey) != 66 {
		t.Fatalf("invalid root pubkey '%v': %v", rootPubkey, err)
	}
}

func TestLocalSigner(t *testing.T) {
	signer, err := NewLocalSigner(testMnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testSigner(t, context.Background(), signer)

	if _, err := NewLocalSigner("not a mnemonic"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInvalidMnemonic, err)
	}
}

func TestRemoteSigner(t *testing.T) {
	local, err := NewLocalSigner(testMnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	NewService(local).Register(server)
	go server.Serve(listener)
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	testSigner(t, context.Background(), NewClient(conn))
}

func TestRemoteSignerUnavailable(t *testing.T) {
	listener := bufconn.Listen(1 << 20)
	listener.Close()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	_, err = NewClient(conn).RootPubkey(context.Background())
	if !errors.Is(err, cashu.SignerUnavailableErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.SignerUnavailableErr, err)
	}
}
