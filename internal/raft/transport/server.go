package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"

	"consensus-engine/internal/raft"
)

// Server hosts the consensus service for one node.
type Server struct {
	grpcServer *grpc.Server
	addr       raft.ServerAddress
}

// NewServer creates a gRPC server exposing the handler's RPC surface.
func NewServer(handler Handler) *Server {
	grpcServer := grpc.NewServer(
		grpc.ConnectionTimeout(30*time.Second),
		grpc.UnaryInterceptor(callerInterceptor),
	)
	grpcServer.RegisterService(&consensusServiceDesc, handler)
	return &Server{grpcServer: grpcServer}
}

// Start listens on the given address and serves in the background. It returns
// the bound address, which differs from the requested one when the port was 0.
func (s *Server) Start(listenAddr string) (raft.ServerAddress, error) {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	s.addr = raft.ServerAddress(lis.Addr().String())

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			log.Printf("[TRANSPORT] server on %s stopped: %v", s.addr, err)
		}
	}()
	return s.addr, nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() raft.ServerAddress { return s.addr }

// GracefulStop stops accepting new requests and waits for pending handlers,
// preventing an interrupted response to a peer.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// callerInterceptor lifts the calling server's identity out of request
// metadata so failures can be attributed to a peer.
func callerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx = incomingCaller(ctx)
	resp, err := handler(ctx, req)
	if err != nil {
		if caller, ok := CallerID(ctx); ok {
			log.Printf("[TRANSPORT] %s from %s failed: %v", info.FullMethod, caller, err)
		} else {
			log.Printf("[TRANSPORT] %s failed: %v", info.FullMethod, err)
		}
	}
	return resp, err
}
