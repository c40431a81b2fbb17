package transport

import (
	"context"

	"google.golang.org/grpc"

	"consensus-engine/internal/raft"
)

// serviceName is the fully qualified gRPC service name.
const serviceName = "raft.Consensus"

// Handler is the node surface the transport exposes to the network: the two
// consensus RPC entry points plus client command submission.
type Handler interface {
	HandleAppendEntries(req *raft.AppendEntriesRequest) *raft.AppendEntriesResponse
	HandleRequestVote(req *raft.RequestVoteRequest) *raft.RequestVoteResponse
	Accept(command []byte) error
}

// SubmitRequest asks the receiving server to accept a client command.
type SubmitRequest struct {
	Command []byte `json:"command"`
}

// SubmitResponse reports the outcome of a Submit. A server that is not the
// leader sets NotLeader so the client can try elsewhere.
type SubmitResponse struct {
	Applied   bool   `json:"applied"`
	NotLeader bool   `json:"not_leader"`
	Error     string `json:"error,omitempty"`
}

// consensusServiceDesc is the hand-written service descriptor. There are no
// generated protobuf bindings: messages are plain structs carried by the
// registered JSON codec.
var consensusServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "consensus",
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(raft.AppendEntriesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).HandleAppendEntries(req.(*raft.AppendEntriesRequest)), nil
	}
	if interceptor == nil {
		return invoke(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	return interceptor(ctx, req, info, invoke)
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(raft.RequestVoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).HandleRequestVote(req.(*raft.RequestVoteRequest)), nil
	}
	if interceptor == nil {
		return invoke(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	return interceptor(ctx, req, info, invoke)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SubmitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, req any) (any, error) {
		return submit(srv.(Handler), req.(*SubmitRequest)), nil
	}
	if interceptor == nil {
		return invoke(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Submit"}
	return interceptor(ctx, req, info, invoke)
}

func submit(h Handler, req *SubmitRequest) *SubmitResponse {
	switch err := h.Accept(req.Command); err {
	case nil:
		return &SubmitResponse{Applied: true}
	case raft.ErrNotLeader, raft.ErrLeadershipLost:
		return &SubmitResponse{NotLeader: true, Error: err.Error()}
	default:
		return &SubmitResponse{Error: err.Error()}
	}
}
