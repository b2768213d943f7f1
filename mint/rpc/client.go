package rpc

import (
	"context"
	"crypto/tls"

	"github.com/elnosh/starknuts/cashu/nuts/nut01"
	"github.com/elnosh/starknuts/cashu/nuts/nut02"
	"github.com/elnosh/starknuts/cashu/nuts/nut03"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut06"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/cashu/nuts/nut09"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial creates a client connection to the mint at address.
func Dial(address string, insecure bool, option ...grpc.DialOption) (*grpc.ClientConn, error) {
	if !insecure {
		h2creds := credentials.NewTLS(&tls.Config{NextProtos: []string{"h2"}})
		option = append(option, grpc.WithTransportCredentials(h2creds))
	}
	return dial(address, option...)
}

func dial(address string, option ...grpc.DialOption) (*grpc.ClientConn, error) {
	if len(option) == 0 {
		option = append(option, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(address, option...)
	if err != nil {
		log.WithError(err).WithField("address", address).Error("could not connect")
		return nil, err
	}
	return conn, nil
}

// NodeClient calls the node service and returns cashu errors.
type NodeClient struct {
	conn grpc.ClientConnInterface
}

func NewNodeClient(conn grpc.ClientConnInterface) *NodeClient {
	return &NodeClient{conn: conn}
}

func (c *NodeClient) invoke(ctx context.Context, method string, req, resp any) error {
	return wire.Invoke(ctx, c.conn, "/"+NodeServiceName+"/"+method, req, resp)
}

func (c *NodeClient) KeysetList(ctx context.Context) (*nut02.GetKeysetsResponse, error) {
	var resp nut02.GetKeysetsResponse
	if err := c.invoke(ctx, "KeysetList", &KeysetListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) KeysetKeys(ctx context.Context, id string) (*nut01.GetKeysResponse, error) {
	var resp nut01.GetKeysResponse
	if err := c.invoke(ctx, "KeysetKeys", &nut01.GetKeysRequest{Id: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) MintQuote(ctx context.Context, req nut04.PostMintQuoteRequest) (*nut04.PostMintQuoteResponse, error) {
	var resp nut04.PostMintQuoteResponse
	if err := c.invoke(ctx, "MintQuote", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) MintQuoteState(ctx context.Context, req nut04.GetMintQuoteStateRequest) (*nut04.PostMintQuoteResponse, error) {
	var resp nut04.PostMintQuoteResponse
	if err := c.invoke(ctx, "MintQuoteState", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Mint(ctx context.Context, req nut04.PostMintRequest) (*nut04.PostMintResponse, error) {
	var resp nut04.PostMintResponse
	if err := c.invoke(ctx, "Mint", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Swap(ctx context.Context, req nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	var resp nut03.PostSwapResponse
	if err := c.invoke(ctx, "Swap", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) MeltQuote(ctx context.Context, req nut05.PostMeltQuoteRequest) (*nut05.PostMeltQuoteResponse, error) {
	var resp nut05.PostMeltQuoteResponse
	if err := c.invoke(ctx, "MeltQuote", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) MeltQuoteState(ctx context.Context, req nut05.GetMeltQuoteStateRequest) (*nut05.PostMeltQuoteResponse, error) {
	var resp nut05.PostMeltQuoteResponse
	if err := c.invoke(ctx, "MeltQuoteState", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Melt(ctx context.Context, req nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	var resp nut05.PostMeltResponse
	if err := c.invoke(ctx, "Melt", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) CheckState(ctx context.Context, Ys []string) (*nut07.PostCheckStateResponse, error) {
	var resp nut07.PostCheckStateResponse
	if err := c.invoke(ctx, "CheckState", &nut07.PostCheckStateRequest{Ys: Ys}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Restore(ctx context.Context, req nut09.PostRestoreRequest) (*nut09.PostRestoreResponse, error) {
	var resp nut09.PostRestoreResponse
	if err := c.invoke(ctx, "Restore", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Info(ctx context.Context) (*nut06.MintInfo, error) {
	var resp nut06.MintInfo
	if err := c.invoke(ctx, "Info", &InfoRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Acknowledge(ctx context.Context, req nut19.AcknowledgeRequest) error {
	return c.invoke(ctx, "Acknowledge", &req, &nut19.AcknowledgeResponse{})
}

// AdminClient calls the admin service with a bearer token.
type AdminClient struct {
	conn  grpc.ClientConnInterface
	token bearerToken
}

func NewAdminClient(conn grpc.ClientConnInterface, token string) *AdminClient {
	return &AdminClient{conn: conn, token: bearerToken(token)}
}

func (c *AdminClient) RotateKeysets(ctx context.Context) (*RotateKeysetsResponse, error) {
	var resp RotateKeysetsResponse
	method := "/" + AdminServiceName + "/RotateKeysets"
	if err := wire.Invoke(ctx, c.conn, method, &RotateKeysetsRequest{}, &resp, grpc.PerRPCCredentials(c.token)); err != nil {
		return nil, err
	}
	return &resp, nil
}

type bearerToken string

func (t bearerToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t bearerToken) RequireTransportSecurity() bool {
	return false
}
