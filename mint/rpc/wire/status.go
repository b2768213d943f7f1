package wire

import (
	"context"
	"errors"
	"strconv"

	"github.com/elnosh/starknuts/cashu"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CodeTrailer carries the numeric cashu error code next to the gRPC status.
const CodeTrailer = "cashu-code"

// StatusCode maps a cashu error code to the gRPC code returned to clients.
func StatusCode(code cashu.CashuErrCode) codes.Code {
	switch code {
	case cashu.QuoteNotExistErrCode:
		return codes.NotFound

	case cashu.ProofAlreadyUsedErrCode,
		cashu.BlindedMessageAlreadySignedErrCode,
		cashu.ProofPendingErrCode,
		cashu.InactiveKeysetErrCode,
		cashu.MintQuoteRequestNotPaidErrCode,
		cashu.MintQuoteAlreadyIssuedErrCode,
		cashu.MeltQuotePendingErrCode,
		cashu.MeltQuoteAlreadyPaidErrCode,
		cashu.QuoteExpiredErrCode,
		cashu.MintingDisabledErrCode,
		cashu.MeltingDisabledErrCode:
		return codes.FailedPrecondition

	case cashu.SignerErrCode:
		return codes.Unavailable
	}

	if code.Internal() {
		return codes.Internal
	}
	return codes.InvalidArgument
}

// StatusFromError converts err into a gRPC status error. Internal-origin
// codes keep their code but the detail is replaced by a generic message.
func StatusFromError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var cashuErr cashu.Error
	var cashuErrPtr *cashu.Error
	switch {
	case errors.As(err, &cashuErrPtr) && cashuErrPtr != nil:
		cashuErr = *cashuErrPtr
	case errors.As(err, &cashuErr):
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		cashuErr = cashu.InternalErr
	}

	detail := cashuErr.Detail
	if cashuErr.Code.Internal() {
		detail = cashu.StandardErr.Detail
	}

	// trailer is best effort, it fails only outside of a server handler
	_ = grpc.SetTrailer(ctx, metadata.Pairs(CodeTrailer, strconv.Itoa(int(cashuErr.Code))))
	return status.Error(StatusCode(cashuErr.Code), detail)
}

// ErrorFromStatus rebuilds a cashu.Error from a status error and the
// trailer received with it. Auth failures are returned as status errors.
func ErrorFromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	if values := trailer.Get(CodeTrailer); len(values) > 0 {
		if code, convErr := strconv.Atoi(values[0]); convErr == nil {
			return cashu.BuildCashuError(st.Message(), cashu.CashuErrCode(code))
		}
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return err
	case codes.Unavailable, codes.DeadlineExceeded:
		return cashu.SignerUnavailableErr
	case codes.NotFound:
		return cashu.BuildCashuError(st.Message(), cashu.QuoteNotExistErrCode)
	case codes.Internal, codes.Unknown:
		return cashu.BuildCashuError(st.Message(), cashu.InternalErrCode)
	}
	return cashu.BuildCashuError(st.Message(), cashu.StandardErrCode)
}

// Invoke calls a unary method with the CBOR codec and converts the
// returned status back into a cashu error.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp any, opts ...grpc.CallOption) error {
	var trailer metadata.MD
	opts = append(opts, grpc.CallContentSubtype(CodecName), grpc.Trailer(&trailer))
	if err := conn.Invoke(ctx, method, req, resp, opts...); err != nil {
		return ErrorFromStatus(err, trailer)
	}
	return nil
}
