package server

import (
	"context"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// RPCServer combines a Dispatcher with a ServerTransportManager
type RPCServer struct {
	*Dispatcher
	config  common.ServerConfig
	manager *base.ServerTransportManager
}

// NewRPCServer creates a new RPC server
// It takes a config, connector and serializer as parameters
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		config,
//		tcp.NewServerConnector(),
//		serializer.NewMsgpackSerializer(),
//		base.Handlers{},
//	)
//	_ = s.RegisterFunc("echo", echo)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	connector base.IServerConnector,
	s serializer.IRPCSerializer,
	handlers base.Handlers,
) (*RPCServer, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	manager, err := base.NewServerTransportManager(connector, config, s, handlers)
	if err != nil {
		return nil, err
	}

	srv := &RPCServer{
		Dispatcher: NewDispatcher(config.RateLimit, config.RateBurst),
		config:     config,
		manager:    manager,
	}
	manager.RegisterHandler(srv.Handle)

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())
	return srv, nil
}

// Serve listens on the configured endpoint until ctx is done or Shutdown is called
func (s *RPCServer) Serve(ctx context.Context) error {
	Logger.Infof("Serving %d methods", len(s.Methods()))
	return s.manager.Listen(ctx)
}

// Shutdown stops accepting connections and waits for in-flight invocations
func (s *RPCServer) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}

// Ready is closed once the server accepts connections
func (s *RPCServer) Ready() <-chan struct{} {
	return s.manager.Ready()
}

// Addr returns the address the server listens on
func (s *RPCServer) Addr() string {
	return s.manager.Addr()
}

// Statistics returns the transport statistics of the server
func (s *RPCServer) Statistics() base.Statistics {
	return s.manager.Statistics()
}
