package grpcbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorKind is the host-neutral error taxonomy. Every transport status
// code maps to exactly one kind; see [KindOf].
type ErrorKind int32

const (
	// KindOK indicates success.
	KindOK ErrorKind = iota
	// KindFailed is the generic bucket for unknown and unmapped codes.
	KindFailed
	// KindCancelled indicates the call was cancelled.
	KindCancelled
	// KindTimeout indicates the deadline expired.
	KindTimeout
	// KindInvalidArgument indicates the caller supplied a bad argument.
	KindInvalidArgument
	// KindNotFound indicates a missing entity.
	KindNotFound
	// KindAlreadyExists indicates a duplicate entity.
	KindAlreadyExists
	// KindPermissionDenied indicates the caller lacks permission.
	KindPermissionDenied
	// KindResourceExhausted indicates a quota or resource limit.
	KindResourceExhausted
	// KindFailedPrecondition indicates the system state rejects the call.
	KindFailedPrecondition
	// KindAborted indicates the operation was aborted, e.g. a conflict.
	KindAborted
	// KindOutOfRange indicates an out-of-range argument.
	KindOutOfRange
	// KindUnimplemented indicates the method is not implemented.
	KindUnimplemented
	// KindConnectionUnavailable indicates the transport is unavailable.
	KindConnectionUnavailable
	// KindDataLoss indicates unrecoverable data loss or corruption.
	KindDataLoss
	// KindUnauthenticated indicates missing or invalid credentials.
	KindUnauthenticated
)

// String implements fmt.Stringer.
func (x ErrorKind) String() string {
	switch x {
	case KindOK:
		return "ok"
	case KindFailed:
		return "failed"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindNotFound:
		return "not-found"
	case KindAlreadyExists:
		return "already-exists"
	case KindPermissionDenied:
		return "permission-denied"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindFailedPrecondition:
		return "failed-precondition"
	case KindAborted:
		return "aborted"
	case KindOutOfRange:
		return "out-of-range"
	case KindUnimplemented:
		return "unimplemented"
	case KindConnectionUnavailable:
		return "connection-unavailable"
	case KindDataLoss:
		return "data-loss"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "failed"
	}
}

// KindOf maps a transport status code to its [ErrorKind]. The mapping
// is total: codes added to the transport in the future fall into
// [KindFailed].
func KindOf(code codes.Code) ErrorKind {
	switch code {
	case codes.OK:
		return KindOK
	case codes.Canceled:
		return KindCancelled
	case codes.Unknown:
		return KindFailed
	case codes.InvalidArgument:
		return KindInvalidArgument
	case codes.DeadlineExceeded:
		return KindTimeout
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists:
		return KindAlreadyExists
	case codes.PermissionDenied:
		return KindPermissionDenied
	case codes.ResourceExhausted:
		return KindResourceExhausted
	case codes.FailedPrecondition:
		return KindFailedPrecondition
	case codes.Aborted:
		return KindAborted
	case codes.OutOfRange:
		return KindOutOfRange
	case codes.Unimplemented:
		return KindUnimplemented
	case codes.Internal:
		return KindFailed
	case codes.Unavailable:
		return KindConnectionUnavailable
	case codes.DataLoss:
		return KindDataLoss
	case codes.Unauthenticated:
		return KindUnauthenticated
	default:
		return KindFailed
	}
}

// KindOfError maps an arbitrary error to an [ErrorKind], recognising
// transport status errors and context cancellation/expiry. A nil error
// maps to [KindOK].
func KindOfError(err error) ErrorKind {
	return KindOf(codeOfError(err))
}

// codeOfError extracts the transport status code from an error.
// Context cancellation maps to Canceled, deadline expiry to
// DeadlineExceeded, anything else without a status to Internal.
func codeOfError(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

// Describe formats a status as a single human-readable line:
// code name, numeric value, and message, plus details when present.
func Describe(s *status.Status) string {
	if s == nil {
		s = status.New(codes.OK, "")
	}
	out := fmt.Sprintf("grpc error [%s (%d)]: %s", s.Code().String(), int(s.Code()), s.Message())
	if details := s.Details(); len(details) > 0 {
		out += fmt.Sprintf(" | details: %d attached", len(details))
	}
	return out
}

// DescribeError is [Describe] applied to an arbitrary error, using the
// same mapping as [KindOfError] for errors without a transport status.
func DescribeError(err error) string {
	if s, ok := status.FromError(err); ok {
		return Describe(s)
	}
	return Describe(status.New(codeOfError(err), err.Error()))
}

// DescribeTrailers formats trailing metadata for diagnostics. Returns
// the empty string when there is nothing to report.
func DescribeTrailers(md metadata.MD) string {
	if len(md) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("trailing metadata: ")
	first := true
	for k, vs := range md {
		for _, v := range vs {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
			first = false
		}
	}
	return sb.String()
}
