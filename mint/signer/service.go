package signer

import (
	"context"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	"google.golang.org/grpc"
)

const ServiceName = "starknuts.Signer"

type DeclareKeysetRequest struct {
	Unit     string `json:"unit"`
	Index    uint32 `json:"index"`
	MaxOrder uint   `json:"max_order"`
}

type SignRequest struct {
	Messages cashu.BlindedMessages `json:"messages"`
}

type SignResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

type VerifyRequest struct {
	Proofs cashu.Proofs `json:"proofs"`
}

type VerifyResponse struct{}

type RootPubkeyRequest struct{}

type RootPubkeyResponse struct {
	Pubkey string `json:"pubkey"`
}

// Service exposes a Signer over gRPC.
type Service struct {
	signer Signer
}

func NewService(signer Signer) *Service {
	return &Service{signer: signer}
}

func (s *Service) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&ServiceDesc, s)
}

func (s *Service) DeclareKeyset(ctx context.Context, req *DeclareKeysetRequest) (*Keyset, error) {
	unit, err := cashu.UnitFromString(req.Unit)
	if err != nil {
		return nil, wire.StatusFromError(ctx, cashu.UnitNotSupportedErr)
	}
	keyset, err := s.signer.DeclareKeyset(ctx, unit, req.Index, req.MaxOrder)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &keyset, nil
}

func (s *Service) SignBlindedMessages(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	signatures, err := s.signer.SignBlindedMessages(ctx, req.Messages)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &SignResponse{Signatures: signatures}, nil
}

func (s *Service) VerifyProofs(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	if err := s.signer.VerifyProofs(ctx, req.Proofs); err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &VerifyResponse{}, nil
}

func (s *Service) RootPubkey(ctx context.Context, _ *RootPubkeyRequest) (*RootPubkeyResponse, error) {
	pubkey, err := s.signer.RootPubkey(ctx)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	return &RootPubkeyResponse{Pubkey: pubkey}, nil
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		wire.UnaryHandler(ServiceName, "DeclareKeyset", (*Service).DeclareKeyset),
		wire.UnaryHandler(ServiceName, "SignBlindedMessages", (*Service).SignBlindedMessages),
		wire.UnaryHandler(ServiceName, "VerifyProofs", (*Service).VerifyProofs),
		wire.UnaryHandler(ServiceName, "RootPubkey", (*Service).RootPubkey),
	},
	Metadata: "starknuts/signer",
}
