package backendrpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codecbridge/webcodecs/internal/backend"
)

// ServerConfig holds the gRPC listen configuration for a backendrpc server.
type ServerConfig struct {
	// ListenAddr is the TCP address to listen on (e.g. ":9091").
	ListenAddr string
}

// Server hosts a single backend.Backend (normally an ffmpegbackend.Backend)
// and answers backendServer RPCs against it. Every RPC is forwarded
// straight through to the wrapped backend; Server adds no buffering or
// queueing of its own, matching invariant 8's "strictly serial per backend"
// contract on the client's worker instead.
type Server struct {
	logger *slog.Logger
	config ServerConfig
	be     backend.Backend

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
}

// NewServer wraps be for remote access.
func NewServer(logger *slog.Logger, config ServerConfig, be backend.Backend) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, config: config, be: be}
}

// Serve starts the gRPC server on its configured TCP address and blocks
// until it stops or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("backendrpc: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.ServeOnListener(listener) }()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()
		if srv != nil {
			srv.GracefulStop()
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ServeOnListener starts the gRPC server on an already-open listener,
// blocking until it stops. Tests use this with an in-memory bufconn
// listener instead of a real TCP socket.
func (s *Server) ServeOnListener(listener net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("backendrpc: server already started")
	}
	s.listener = listener
	s.server = grpc.NewServer()
	s.server.RegisterService(&serviceDesc, s)
	server := s.server
	s.mu.Unlock()

	s.logger.Info("backendrpc server started", slog.String("addr", listener.Addr().String()))
	return server.Serve(listener)
}

// Stop shuts the server down immediately, closing the backend it wraps.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		srv.Stop()
	}
	return s.be.Close()
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if err == backend.ErrSaturated {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	if be, ok := err.(*backend.Error); ok {
		switch be.Kind {
		case backend.ErrKindNotSupported:
			return status.Error(codes.Unimplemented, be.Error())
		case backend.ErrKindConfiguration:
			return status.Error(codes.InvalidArgument, be.Error())
		default:
			return status.Error(codes.Internal, be.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Server) Configure(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := decodeConfig(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.be.Configure(ctx, cfg); err != nil {
		return nil, grpcError(err)
	}
	return newStruct(nil)
}

func (s *Server) SubmitInput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	inputStruct, err := structpb.NewStruct(m["input"].(map[string]any))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	input, err := decodeInput(inputStruct)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var options any
	if raw, ok := m["options"].(map[string]any); ok {
		optStruct, err := structpb.NewStruct(raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		options, err = decodeOptions(optStruct)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	if err := s.be.SubmitInput(ctx, input, options); err != nil {
		return nil, grpcError(err)
	}
	return newStruct(nil)
}

func (s *Server) PollOutput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.be.PollOutput(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeOutput(out)
}

func (s *Server) WouldSaturate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	pending := int(num(m, "pending"))
	return newStruct(map[string]any{"wouldSaturate": s.be.WouldSaturate(pending)})
}

func (s *Server) SignalEOF(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.be.SignalEOF(ctx); err != nil {
		return nil, grpcError(err)
	}
	return newStruct(nil)
}

func (s *Server) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.be.Reset(ctx); err != nil {
		return nil, grpcError(err)
	}
	return newStruct(nil)
}

func (s *Server) Close(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.be.Close(); err != nil {
		return nil, grpcError(err)
	}
	return newStruct(nil)
}
