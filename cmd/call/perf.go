package call

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/msgpackrpc/cmd/serve"
	"github.com/ValentinKolb/msgpackrpc/cmd/util"
	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/server"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/inproc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// selfEndpoint is the inproc endpoint of the server started by perf --self
const selfEndpoint = "mprpc-perf"

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for mprpc servers",
		Long:    "Runs parallel benchmarks against the builtin methods of an mprpc server. With --self an in-process server is started and connected via the inproc transport.",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads     = 10
	perfLargePayloadKB = 100
	perfSkip           = make([]string, 0)
)

func init() {
	key := "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. echo,add)"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Parallelism of the benchmark (multiplied by GOMAXPROCS)"))
	key = "large-payload-size"
	perfCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the echo-large test should be (in KB)"))
	key = "self"
	perfCmd.Flags().Bool(key, false, util.WrapString("Benchmark an in-process server over the inproc transport"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargePayloadKB = viper.GetInt("large-payload-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads < 1 {
		return fmt.Errorf("threads must be positive: %d", perfNumThreads)
	}
	return nil
}

// benchmark is a single named workload
type benchmark struct {
	name string
	op   func(ctx context.Context) error
}

func runPerf(cmd *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	if viper.GetBool("self") {
		stop, err := startSelfServer(cmd.Context())
		if err != nil {
			return err
		}
		defer stop()

		config.Transport = "inproc"
		config.Endpoints = []string{selfEndpoint}
		if rpcClient, err = newClient(config); err != nil {
			return err
		}
	}

	fmt.Println("Performance testing tool for mprpc servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	largePayload := make([]byte, perfLargePayloadKB*1024)
	benchmarks := []benchmark{
		{"ping", func(ctx context.Context) error {
			var out string
			return rpcClient.CallInto(ctx, &out, "ping")
		}},
		{"echo", func(ctx context.Context) error {
			var out string
			return rpcClient.CallInto(ctx, &out, "echo", "test")
		}},
		{"echo-large", func(ctx context.Context) error {
			var out []byte
			return rpcClient.CallInto(ctx, &out, "echo", largePayload)
		}},
		{"add", func(ctx context.Context) error {
			var out int64
			return rpcClient.CallInto(ctx, &out, "add", 1, 2, 3)
		}},
		{"notify", func(ctx context.Context) error {
			return rpcClient.Notify(ctx, "ping")
		}},
	}

	results := make(map[string]testing.BenchmarkResult, len(benchmarks))
	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if err := bm.op(cmd.Context()); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
				}
			})
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	fmt.Println()
	fmt.Println(rpcClient.Statistics().String())

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// startSelfServer serves the builtin methods on the inproc transport until stop is called
func startSelfServer(ctx context.Context) (stop func(), err error) {
	config := common.DefaultServerConfig()
	config.Transport = "inproc"
	config.Endpoint = selfEndpoint

	s, err := util.GetSerializer()
	if err != nil {
		return nil, err
	}

	srv, err := server.NewRPCServer(config, inproc.NewServerConnector(inproc.Options{}), s, base.Handlers{})
	if err != nil {
		return nil, err
	}
	if err := serve.RegisterBuiltins(srv); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		return nil, fmt.Errorf("in-process server failed: %w", err)
	}

	return func() {
		_ = closeClient()
		rpcClient = nil
		cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), util.CloseTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("in-process server shutdown: %v\n", err)
		}
		<-done
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "LargePayloadKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			config.Transport,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargePayloadKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
