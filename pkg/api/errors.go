package api

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/specs"
)

// Sentinel errors of the API layer; rpcError maps each onto its status
// code.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrNotImplemented     = errors.New("not implemented")
)

// rpcError maps a service error onto a gRPC status with a single
// human-readable message.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return err
	}
	var typing *specs.TypingError
	var invalidSpec *specs.InvalidSpecError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrInvalidArgument),
		errors.As(err, &typing),
		errors.As(err, &invalidSpec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, datastore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrFailedPrecondition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, filestore.ErrUnableToLock):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrNotImplemented):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// checkIDComponent rejects ids that cannot safely become path components
// or appear inside listing globs. Empty values pass; presence is checked
// separately where required.
func checkIDComponent(name, value string) error {
	if strings.ContainsAny(value, `/\*?[]{}`) {
		return invalidArgumentf("%s %q contains reserved characters", name, value)
	}
	return nil
}

func invalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func failedPreconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFailedPrecondition, fmt.Sprintf(format, args...))
}
