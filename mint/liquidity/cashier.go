package liquidity

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const CashierServiceName = "starknuts.Cashier"

type CashierConfigRequest struct{}

type CashierConfigResponse struct {
	ChainId string `json:"chain_id"`
}

type CashierWithdrawRequest struct {
	InvoiceId []byte `json:"invoice_id"`
	Asset     string `json:"asset"`
	// big endian, without leading zero bytes
	Amount []byte `json:"amount"`
	Payee  []byte `json:"payee"`
}

type CashierWithdrawResponse struct {
	TxHash []byte `json:"tx_hash"`
}

type CashierWithdrawStatusRequest struct {
	InvoiceId []byte `json:"invoice_id"`
}

type WithdrawStatus string

const (
	WithdrawPending   WithdrawStatus = "PENDING"
	WithdrawSucceeded WithdrawStatus = "SUCCEEDED"
	WithdrawFailed    WithdrawStatus = "FAILED"
)

// CashierWithdrawStatusResponse is empty when the cashier has no record
// of a withdrawal for the invoice.
type CashierWithdrawStatusResponse struct {
	Status WithdrawStatus `json:"status"`
	TxHash []byte         `json:"tx_hash"`
}

// CashierServer is implemented by the process holding the on-chain
// account that disburses withdrawals.
type CashierServer interface {
	Config(context.Context, *CashierConfigRequest) (*CashierConfigResponse, error)
	Withdraw(context.Context, *CashierWithdrawRequest) (*CashierWithdrawResponse, error)
	WithdrawStatus(context.Context, *CashierWithdrawStatusRequest) (*CashierWithdrawStatusResponse, error)
}

var CashierServiceDesc = grpc.ServiceDesc{
	ServiceName: CashierServiceName,
	HandlerType: (*CashierServer)(nil),
	Methods: []grpc.MethodDesc{
		wire.UnaryHandler(CashierServiceName, "Config", CashierServer.Config),
		wire.UnaryHandler(CashierServiceName, "Withdraw", CashierServer.Withdraw),
		wire.UnaryHandler(CashierServiceName, "WithdrawStatus", CashierServer.WithdrawStatus),
	},
	Metadata: "starknuts/cashier",
}

func RegisterCashierServer(registrar grpc.ServiceRegistrar, server CashierServer) {
	registrar.RegisterService(&CashierServiceDesc, server)
}

type CashierClient struct {
	conn        grpc.ClientConnInterface
	closer      func() error
	callTimeout time.Duration
}

func NewCashierClient(conn grpc.ClientConnInterface) *CashierClient {
	return &CashierClient{conn: conn, callTimeout: 30 * time.Second}
}

// DialCashier connects to the cashier at address and checks that it
// operates on chainId.
func DialCashier(ctx context.Context, address, chainId string, maxWait time.Duration) (*CashierClient, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not create cashier client: %v", err)
	}
	client := NewCashierClient(conn)
	client.closer = conn.Close

	var config *CashierConfigResponse
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxWait
	err = backoff.Retry(func() error {
		config, err = client.Config(ctx)
		return err
	}, backoff.WithContext(expBackoff, ctx))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cashier at %v not reachable: %w", address, err)
	}
	if config.ChainId != chainId {
		conn.Close()
		return nil, fmt.Errorf("mint expected chain id '%v' while cashier is using '%v'", chainId, config.ChainId)
	}

	return client, nil
}

func (c *CashierClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *CashierClient) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return wire.Invoke(ctx, c.conn, "/"+CashierServiceName+"/"+method, req, resp)
}

func (c *CashierClient) Config(ctx context.Context) (*CashierConfigResponse, error) {
	var resp CashierConfigResponse
	if err := c.invoke(ctx, "Config", &CashierConfigRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *CashierClient) Withdraw(ctx context.Context, req *CashierWithdrawRequest) (*CashierWithdrawResponse, error) {
	var resp CashierWithdrawResponse
	if err := c.invoke(ctx, "Withdraw", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *CashierClient) WithdrawStatus(ctx context.Context, invoiceId []byte) (*CashierWithdrawStatusResponse, error) {
	var resp CashierWithdrawStatusResponse
	req := &CashierWithdrawStatusRequest{InvoiceId: invoiceId}
	if err := c.invoke(ctx, "WithdrawStatus", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
