package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"

	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/runstate"
	"github.com/beegfs-io/mgmtd/pkg/store"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Service is the structured RPC surface's receiver: the same core
// dependencies pkg/handlers' Context carries, since both transports sit
// on top of the same C4 state store and C2 connection pool.
type Service struct {
	store    *store.Store
	pool     *connpool.Pool
	runState *runstate.Controller
	logger   zerolog.Logger
}

// NewService builds a Service over the core's shared dependencies.
func NewService(s *store.Store, pool *connpool.Pool, rs *runstate.Controller, logger zerolog.Logger) *Service {
	return &Service{store: s, pool: pool, runState: rs, logger: logger.With().Str("component", "rpc").Logger()}
}

// managementServer is the (empty) interface grpc.ServiceDesc's
// HandlerType check verifies the registered implementation against.
// There are no protoc-generated method signatures to assert here, so
// this stays empty and the real contract lives in the ServiceDesc's
// Methods/Streams tables below.
type managementServer interface{}

// unary adapts a (context, *Req) (*Resp, error) method into the
// grpc.MethodHandler shape protoc-gen-go-grpc would otherwise generate,
// wiring in the gRPC unary interceptor chain and mapping mgmterr.Kind to
// a status code on the way out.
// Method values taken as (*Service).Foo are method EXPRESSIONS: the
// receiver becomes the function's first parameter, ahead of context.
func unary[Req any, Resp any](method string, fn func(*Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Service)
			if interceptor == nil {
				out, err := fn(s, ctx, in)
				return out, toStatus(err)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/beegfs.mgmtd.Management/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := fn(s, ctx, req.(*Req))
				return out, toStatus(err)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream adapts a (context, *Req, send func(*Resp) error) error
// paged-streaming method into a grpc.StreamHandler.
func serverStream[Req any, Resp any](name string, fn func(*Service, context.Context, *Req, func(*Resp) error) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			s := srv.(*Service)
			err := fn(s, stream.Context(), in, func(resp *Resp) error {
				return stream.SendMsg(resp)
			})
			return toStatus(err)
		},
	}
}

// serviceDesc builds the hand-rolled grpc.ServiceDesc: every method and
// server-streaming RPC this package exposes, each wired through unary or
// serverStream instead of protoc-generated glue.
func serviceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "beegfs.mgmtd.Management",
		HandlerType: (*managementServer)(nil),
		Methods: []grpc.MethodDesc{
			unary("ListNodes", (*Service).ListNodes),
			unary("SetAlias", (*Service).SetAlias),
			unary("DeleteNode", (*Service).DeleteNode),
			unary("ListTargets", (*Service).ListTargets),
			unary("DeleteTarget", (*Service).DeleteTarget),
			unary("SetTargetState", (*Service).SetTargetState),
			unary("StartResync", (*Service).StartResync),
			unary("ListPools", (*Service).ListPools),
			unary("CreatePool", (*Service).CreatePool),
			unary("DeletePool", (*Service).DeletePool),
			unary("ListBuddyGroups", (*Service).ListBuddyGroups),
			unary("CreateBuddyGroup", (*Service).CreateBuddyGroup),
			unary("DeleteBuddyGroup", (*Service).DeleteBuddyGroup),
			unary("MirrorRootInode", (*Service).MirrorRootInode),
			unary("SetQuota", (*Service).SetQuota),
			unary("SetDefaultQuota", (*Service).SetDefaultQuota),
		},
		Streams: []grpc.StreamDesc{
			serverStream("StreamQuotaLimits", (*Service).StreamQuotaLimits),
			serverStream("StreamQuotaUsage", (*Service).StreamQuotaUsage),
		},
		Metadata: "pkg/rpc",
	}
}

// Server wraps the grpc.Server hosting the structured RPC surface.
type Server struct {
	grpcServer *grpc.Server
	listenAddr string
	logger     zerolog.Logger
}

// NewServer builds a Server from cfg and svc. A cert/key pair turns on
// transport security; an additional client CA file turns on mTLS,
// matching the teacher's mTLS-gated API server but loading credentials
// straight from configured file paths rather than a managed PKI
// directory, since this core has no cluster-membership concept of its
// own to issue certificates against.
func NewServer(cfg config.RPC, svc *Service, logger zerolog.Logger) (*Server, error) {
	opts := []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load rpc server certificate: %w", err)
		}
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

		if cfg.ClientCAFile != "" {
			caPEM, err := os.ReadFile(cfg.ClientCAFile)
			if err != nil {
				return nil, fmt.Errorf("read rpc client ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("rpc client ca file %s contains no usable certificates", cfg.ClientCAFile)
			}
			tlsConfig.ClientCAs = pool
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}

		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	gs := grpc.NewServer(opts...)
	desc := serviceDesc()
	gs.RegisterService(&desc, svc)

	return &Server{grpcServer: gs, listenAddr: cfg.ListenAddr, logger: logger.With().Str("component", "rpc").Logger()}, nil
}

// Start listens on the configured address and serves until Stop is
// called or the listener fails. It blocks, matching the teacher's
// Server.Start(addr)/grpc.Serve pattern.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listenAddr, err)
	}
	s.logger.Info().Str("addr", s.listenAddr).Msg("structured rpc server listening")
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight calls before returning.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
