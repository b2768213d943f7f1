package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultCallTimeout = 10 * time.Second

// Client is a Signer backed by a remote signer process.
type Client struct {
	conn        grpc.ClientConnInterface
	closer      func() error
	callTimeout time.Duration
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, callTimeout: defaultCallTimeout}
}

// Dial connects to the signer at address and retries with exponential
// backoff until it answers or maxWait elapses.
func Dial(ctx context.Context, address string, maxWait time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not create signer client: %v", err)
	}

	client := NewClient(conn)
	client.closer = conn.Close

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxWait
	ping := func() error {
		_, err := client.RootPubkey(ctx)
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(expBackoff, ctx)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("signer at %v not reachable: %w", address, err)
	}

	return client, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return wire.Invoke(ctx, c.conn, "/"+ServiceName+"/"+method, req, resp)
}

func (c *Client) DeclareKeyset(
	ctx context.Context,
	unit cashu.Unit,
	index uint32,
	maxOrder uint,
) (Keyset, error) {
	req := &DeclareKeysetRequest{Unit: unit.String(), Index: index, MaxOrder: maxOrder}
	var keyset Keyset
	if err := c.invoke(ctx, "DeclareKeyset", req, &keyset); err != nil {
		return Keyset{}, err
	}
	if !keyset.VerifyId() {
		return Keyset{}, fmt.Errorf("signer returned keyset with mismatched id %v", keyset.Id)
	}
	return keyset, nil
}

func (c *Client) SignBlindedMessages(
	ctx context.Context,
	messages cashu.BlindedMessages,
) (cashu.BlindedSignatures, error) {
	var resp SignResponse
	if err := c.invoke(ctx, "SignBlindedMessages", &SignRequest{Messages: messages}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Signatures) != len(messages) {
		return nil, fmt.Errorf("signer returned %v signatures for %v messages", len(resp.Signatures), len(messages))
	}
	return resp.Signatures, nil
}

func (c *Client) VerifyProofs(ctx context.Context, proofs cashu.Proofs) error {
	return c.invoke(ctx, "VerifyProofs", &VerifyRequest{Proofs: proofs}, &VerifyResponse{})
}

func (c *Client) RootPubkey(ctx context.Context) (string, error) {
	var resp RootPubkeyResponse
	if err := c.invoke(ctx, "RootPubkey", &RootPubkeyRequest{}, &resp); err != nil {
		return "", err
	}
	return resp.Pubkey, nil
}
