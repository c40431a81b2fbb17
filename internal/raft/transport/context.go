package transport

import (
	"context"

	"google.golang.org/grpc/metadata"

	"consensus-engine/internal/ctxutil"
	"consensus-engine/internal/raft"
)

// callerMetadataKey is the gRPC metadata key carrying the calling server's id.
const callerMetadataKey = "raft-caller-id"

var callerID = ctxutil.NewKey[raft.ServerID]("callerID")

// WithCallerID stamps the calling server's identity onto an outbound context.
// The client attaches it as gRPC metadata so the remote side can log who is
// talking to it.
func WithCallerID(ctx context.Context, id raft.ServerID) context.Context {
	return ctxutil.Set(ctx, callerID, id)
}

// CallerID retrieves the calling server's identity from a context, either
// stamped locally or extracted from inbound metadata by the server
// interceptor.
func CallerID(ctx context.Context) (raft.ServerID, bool) {
	return ctxutil.Get(ctx, callerID)
}

// outgoingMetadata converts the stamped caller identity into gRPC metadata.
func outgoingMetadata(ctx context.Context) context.Context {
	if id, ok := CallerID(ctx); ok {
		return metadata.AppendToOutgoingContext(ctx, callerMetadataKey, string(id))
	}
	return ctx
}

// incomingCaller lifts the caller identity out of inbound gRPC metadata.
func incomingCaller(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	values := md.Get(callerMetadataKey)
	if len(values) == 0 {
		return ctx
	}
	return ctxutil.Set(ctx, callerID, raft.ServerID(values[0]))
}
