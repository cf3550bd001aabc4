// Package server provides the method registry of the RPC runtime and a server type that
// wires it to a base.ServerTransportManager.
//
// Key Components:
//
//   - Invoker/HandlerFunc: The target of a call. Arguments arrive undecoded as a
//     *protocol.Arguments and are decoded one by one with Next or Scan, which produces
//     the ArgumentError responses of the protocol.
//
//   - Unary: Generic adapter for methods with one typed argument.
//
//   - Dispatcher: Maps method names to invokers. Unknown methods are answered with
//     NoMethodError. With a configured rate limit surplus requests are answered with
//     ServerBusyError.
//
//   - RPCServer: Dispatcher plus transport manager, created with NewRPCServer.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Endpoint = "0.0.0.0:18800"
//
//	s, err := server.NewRPCServer(config, tcp.NewServerConnector(), serializer.NewMsgpackSerializer(), base.Handlers{})
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	_ = s.Register("add", server.HandlerFunc(func(ctx context.Context, args *protocol.Arguments) (interface{}, error) {
//	  var a, b int64
//	  if err := args.Scan(&a, &b); err != nil {
//	    return nil, err
//	  }
//	  return a + b, nil
//	}))
//
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Invokers are called concurrently, up to MaxWorkersPerConnection per connection.
//	Methods should be registered before Serve is called.
package server
