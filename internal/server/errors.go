package server

import (
	"EscrowLedger/internal/claim"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/oracle"
	"context"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errBadRequest marks request bodies and path parameters that fail to parse.
var errBadRequest = errors.New("bad request")

// codeOf classifies a domain error for the API surface.
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAsset),
		errors.Is(err, ledger.ErrInvalidOwner),
		errors.Is(err, oracle.ErrMalformedRequest),
		errors.Is(err, oracle.ErrInvalidAmount),
		errors.Is(err, claim.ErrMalformedClaim),
		errors.Is(err, ingestion.ErrInvalidQuoteMessage):
		return codes.InvalidArgument
	case errors.Is(err, ledger.ErrLockNotFound),
		errors.Is(err, oracle.ErrUnknownOracle):
		return codes.NotFound
	case errors.Is(err, ledger.ErrLockExists),
		errors.Is(err, claim.ErrClaimReplayed):
		return codes.AlreadyExists
	case errors.Is(err, ledger.ErrInsufficientLockedBalance),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, oracle.ErrStaleQuote),
		errors.Is(err, oracle.ErrMismatchedOracleDecimals),
		errors.Is(err, oracle.ErrInvalidQuote),
		errors.Is(err, claim.ErrClaimProcessingFailed):
		return codes.FailedPrecondition
	case errors.Is(err, claim.ErrInvalidSignature):
		return codes.PermissionDenied
	case errors.Is(err, claim.ErrClaimExpired),
		errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, ledger.ErrFundingUnsupported):
		return codes.Unimplemented
	case errors.Is(err, ledger.ErrTransferFailed):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

var errorMarshaler = &runtime.JSONPb{}

// writeError renders err as a google.rpc.Status body, the same shape the
// gateway uses for proxied gRPC errors.
func writeError(w http.ResponseWriter, err error) int {
	code := codeOf(err)
	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}

	body, mErr := errorMarshaler.Marshal(status.New(code, msg).Proto())
	if mErr != nil {
		body = []byte(`{"code":13,"message":"internal error"}`)
	}

	httpStatus := runtime.HTTPStatusFromCode(code)
	w.Header().Set("Content-Type", errorMarshaler.ContentType(nil))
	w.WriteHeader(httpStatus)
	_, _ = w.Write(body)
	return httpStatus
}
