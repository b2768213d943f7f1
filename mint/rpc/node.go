package rpc

import (
	"context"

	"github.com/elnosh/starknuts/cashu/nuts/nut01"
	"github.com/elnosh/starknuts/cashu/nuts/nut02"
	"github.com/elnosh/starknuts/cashu/nuts/nut03"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut06"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/cashu/nuts/nut09"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/elnosh/starknuts/mint"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	"google.golang.org/grpc"
)

const NodeServiceName = "starknuts.Node"

type KeysetListRequest struct{}

type InfoRequest struct{}

// NodeService is the public surface of the mint.
type NodeService struct {
	mint *mint.Mint
}

func NewNodeService(m *mint.Mint) *NodeService {
	return &NodeService{mint: m}
}

func (s *NodeService) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&NodeServiceDesc, s)
}

func (s *NodeService) KeysetList(ctx context.Context, _ *KeysetListRequest) (*nut02.GetKeysetsResponse, error) {
	keysets := s.mint.ListKeysets()
	return &keysets, nil
}

// KeysetKeys returns the keys of the keyset in the request or of
// every active keyset when no id is given.
func (s *NodeService) KeysetKeys(ctx context.Context, req *nut01.GetKeysRequest) (*nut01.GetKeysResponse, error) {
	if len(req.Id) == 0 {
		keys := s.mint.GetActiveKeys()
		return &keys, nil
	}
	keys, err := s.mint.GetKeysById(req.Id)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &keys, nil
}

func (s *NodeService) MintQuote(ctx context.Context, req *nut04.PostMintQuoteRequest) (*nut04.PostMintQuoteResponse, error) {
	quote, err := s.mint.RequestMintQuote(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return quote, nil
}

func (s *NodeService) MintQuoteState(ctx context.Context, req *nut04.GetMintQuoteStateRequest) (*nut04.PostMintQuoteResponse, error) {
	quote, err := s.mint.GetMintQuoteState(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return quote, nil
}

func (s *NodeService) Mint(ctx context.Context, req *nut04.PostMintRequest) (*nut04.PostMintResponse, error) {
	response, err := s.mint.MintTokens(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return response, nil
}

func (s *NodeService) Swap(ctx context.Context, req *nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	response, err := s.mint.Swap(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return response, nil
}

func (s *NodeService) MeltQuote(ctx context.Context, req *nut05.PostMeltQuoteRequest) (*nut05.PostMeltQuoteResponse, error) {
	quote, err := s.mint.RequestMeltQuote(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return quote, nil
}

func (s *NodeService) MeltQuoteState(ctx context.Context, req *nut05.GetMeltQuoteStateRequest) (*nut05.PostMeltQuoteResponse, error) {
	quote, err := s.mint.GetMeltQuoteState(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return quote, nil
}

func (s *NodeService) Melt(ctx context.Context, req *nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	response, err := s.mint.MeltTokens(ctx, *req)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return response, nil
}

func (s *NodeService) CheckState(ctx context.Context, req *nut07.PostCheckStateRequest) (*nut07.PostCheckStateResponse, error) {
	states, err := s.mint.ProofsStateCheck(ctx, req.Ys)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &nut07.PostCheckStateResponse{States: states}, nil
}

func (s *NodeService) Restore(ctx context.Context, req *nut09.PostRestoreRequest) (*nut09.PostRestoreResponse, error) {
	response, err := s.mint.RestoreSignatures(ctx, req.Outputs)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return response, nil
}

func (s *NodeService) Info(ctx context.Context, _ *InfoRequest) (*nut06.MintInfo, error) {
	info := s.mint.RetrieveMintInfo()
	return &info, nil
}

func (s *NodeService) Acknowledge(ctx context.Context, req *nut19.AcknowledgeRequest) (*nut19.AcknowledgeResponse, error) {
	if err := s.mint.Acknowledge(req.Path, req.RequestHash); err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &nut19.AcknowledgeResponse{}, nil
}

var NodeServiceDesc = grpc.ServiceDesc{
	ServiceName: NodeServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		wire.UnaryHandler(NodeServiceName, "KeysetList", (*NodeService).KeysetList),
		wire.UnaryHandler(NodeServiceName, "KeysetKeys", (*NodeService).KeysetKeys),
		wire.UnaryHandler(NodeServiceName, "MintQuote", (*NodeService).MintQuote),
		wire.UnaryHandler(NodeServiceName, "MintQuoteState", (*NodeService).MintQuoteState),
		wire.UnaryHandler(NodeServiceName, "Mint", (*NodeService).Mint),
		wire.UnaryHandler(NodeServiceName, "Swap", (*NodeService).Swap),
		wire.UnaryHandler(NodeServiceName, "MeltQuote", (*NodeService).MeltQuote),
		wire.UnaryHandler(NodeServiceName, "MeltQuoteState", (*NodeService).MeltQuoteState),
		wire.UnaryHandler(NodeServiceName, "Melt", (*NodeService).Melt),
		wire.UnaryHandler(NodeServiceName, "CheckState", (*NodeService).CheckState),
		wire.UnaryHandler(NodeServiceName, "Restore", (*NodeService).Restore),
		wire.UnaryHandler(NodeServiceName, "Info", (*NodeService).Info),
		wire.UnaryHandler(NodeServiceName, "Acknowledge", (*NodeService).Acknowledge),
	},
	Metadata: "starknuts/node",
}
