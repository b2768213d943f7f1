package rpc

import (
	"context"
	"crypto/subtle"

	"github.com/elnosh/starknuts/cashu/nuts/nut02"
	"github.com/elnosh/starknuts/mint"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const AdminServiceName = "starknuts.Admin"

type RotateKeysetsRequest struct{}

type RotateKeysetsResponse struct {
	Keysets []nut02.Keyset `json:"keysets"`
}

// AdminService exposes the privileged operations of the mint. Every call
// must carry the admin token as a bearer credential.
type AdminService struct {
	mint  *mint.Mint
	token string
}

func NewAdminService(m *mint.Mint, token string) *AdminService {
	return &AdminService{mint: m, token: token}
}

func (s *AdminService) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&AdminServiceDesc, s)
}

// AuthFuncOverride replaces the server wide auth func for the admin service.
func (s *AdminService) AuthFuncOverride(ctx context.Context, fullMethodName string) (context.Context, error) {
	if len(s.token) == 0 {
		return nil, status.Error(codes.PermissionDenied, "admin service is disabled")
	}
	token, err := grpc_auth.AuthFromMD(ctx, "bearer")
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid admin token")
	}
	return ctx, nil
}

func (s *AdminService) RotateKeysets(ctx context.Context, _ *RotateKeysetsRequest) (*RotateKeysetsResponse, error) {
	created, err := s.mint.RotateKeysets(ctx)
	if err != nil {
		return nil, wire.StatusFromError(ctx, err)
	}
	response := &RotateKeysetsResponse{Keysets: make([]nut02.Keyset, len(created))}
	for i, keyset := range created {
		response.Keysets[i] = nut02.Keyset{Id: keyset.Id, Unit: keyset.Unit.String(), Active: keyset.Active}
	}
	return response, nil
}

var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		wire.UnaryHandler(AdminServiceName, "RotateKeysets", (*AdminService).RotateKeysets),
	},
	Metadata: "starknuts/admin",
}
