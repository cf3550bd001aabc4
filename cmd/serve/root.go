package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/msgpackrpc/cmd/util"
	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/server"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds the drain of in-flight invocations after a signal
const shutdownGrace = 10 * time.Second

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an mprpc server with the builtin methods",
		Long:    `Start an mprpc server serving the builtin methods (echo, add, sleep, ping, notify.log). The configuration can be set via command line flags or environment variables. The format of the environment variables is MPRPC_<flag> (e.g. MPRPC_MAX_CONNECTIONS=64)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupRPCServerFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	*serveCmdConfig = *cmdUtil.GetServerConfig()
	if serveCmdConfig.Endpoint == "" {
		return fmt.Errorf("an endpoint is required")
	}
	if serveCmdConfig.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative: %f", serveCmdConfig.RateLimit)
	}
	return nil
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	cmdUtil.InitLogging()

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	connector, err := cmdUtil.GetServerConnector(serveCmdConfig)
	if err != nil {
		return err
	}

	handlers := base.Handlers{}
	if viper.GetString("log-level") == "debug" {
		handlers.Tracer = common.LogTracer
	}

	serv, err := server.NewRPCServer(*serveCmdConfig, connector, s, handlers)
	if err != nil {
		return err
	}
	if err := RegisterBuiltins(serv); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serv.Serve(gctx)
	})

	if endpoint := serveCmdConfig.MetricsEndpoint; endpoint != "" {
		metricsServer := &http.Server{Addr: endpoint, Handler: metricsHandler()}
		g.Go(func() error {
			server.Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Close()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := serv.Shutdown(shutdownCtx); err != nil {
			server.Logger.Warningf("Shutdown did not drain every connection: %v", err)
		}
		server.Logger.Infof("%s", serv.Statistics().String())
		return nil
	})

	return g.Wait()
}

// metricsHandler serves the process wide metrics in the Prometheus text format
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		common.WriteMetrics(w)
	})
	return mux
}
