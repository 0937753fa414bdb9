package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// toStatus attaches a gRPC status code to err based on the mgmterr.Kind
// it carries, the structured surface's equivalent of how the legacy
// dispatcher maps a Kind to a wire.ResponseResult. A nil err returns nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch mgmterr.KindOf(err) {
	case mgmterr.NotFound:
		code = codes.NotFound
	case mgmterr.Conflict:
		code = codes.FailedPrecondition
	case mgmterr.Invalid:
		code = codes.InvalidArgument
	case mgmterr.Auth:
		code = codes.PermissionDenied
	case mgmterr.Policy:
		code = codes.FailedPrecondition
	case mgmterr.Peer:
		code = codes.Unavailable
	case mgmterr.Transport:
		code = codes.Unavailable
	case mgmterr.Codec:
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
