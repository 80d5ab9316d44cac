package txerror

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Domain is the ErrorInfo domain attached to canonical errors.
const Domain = "chainscan"

// ToStatus renders err as a gRPC status. Only canonical codes reach the
// message; any other error collapses to a generic status without upstream text.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}

	var ce *CanonicalError
	if errors.As(err, &ce) {
		c := codes.FailedPrecondition
		if ce.Code == CodeBadInternet {
			c = codes.Unavailable
		}
		st := status.New(c, string(ce.Code))
		detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
			Reason: string(ce.Code),
			Domain: Domain,
		})
		if derr != nil {
			return st
		}
		return detailed
	}

	var me *domain.MalformedDataError
	switch {
	case errors.As(err, &me):
		return status.New(codes.DataLoss, "malformed upstream data")
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	}
	return status.New(codes.Internal, "internal error")
}

// MarshalStatus encodes a status as protojson for HTTP responses.
func MarshalStatus(st *status.Status) ([]byte, error) {
	return protojson.Marshal(st.Proto())
}
