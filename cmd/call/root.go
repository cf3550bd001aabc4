package call

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/msgpackrpc/cmd/util"
	"github.com/ValentinKolb/msgpackrpc/rpc/client"
	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.RPCClient

	// CallCmd invokes a single method on a server
	CallCmd = &cobra.Command{
		Use:   "call [method] [json-args...]",
		Short: "Call a method on an mprpc server",
		Long: `Call a method on an mprpc server and print the result as JSON.
Every argument after the method is parsed as JSON, e.g.

  mprpc call add 1 2
  mprpc call echo '{"a": [1, 2]}'`,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setupClient,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return closeClient()
		},
		RunE: runCall,
	}
)

func init() {
	util.SetupRPCClientFlags(CallCmd)
	CallCmd.Flags().Bool("notify", false, util.WrapString("Send a notification, no response is awaited"))

	CallCmd.AddCommand(perfCmd)
}

// setupClient connects the RPC client from the flags and environment variables
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	util.InitLogging()

	// the perf command may serve itself and connects later
	if cmd == perfCmd && viper.GetBool("self") {
		return nil
	}

	var err error
	rpcClient, err = newClient(util.GetClientConfig())
	return err
}

func newClient(config *common.ClientConfig) (*client.RPCClient, error) {
	s, err := util.GetSerializer()
	if err != nil {
		return nil, err
	}
	connector, err := util.GetClientConnector(config)
	if err != nil {
		return nil, err
	}
	return client.NewRPCClient(*config, connector, s, base.Handlers{})
}

func closeClient() error {
	if rpcClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.CloseTimeout)
	defer cancel()
	return rpcClient.Close(ctx)
}

func runCall(cmd *cobra.Command, args []string) error {
	method := args[0]
	params, err := parseArgs(args[1:])
	if err != nil {
		return err
	}

	if viper.GetBool("notify") {
		if err := rpcClient.Notify(cmd.Context(), method, params...); err != nil {
			return err
		}
		fmt.Println("notification sent")
		return nil
	}

	var result interface{}
	if err := rpcClient.CallInto(cmd.Context(), &result, method, params...); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSafe(result))
}

// parseArgs decodes every command line argument as a JSON value
func parseArgs(raw []string) ([]interface{}, error) {
	params := make([]interface{}, len(raw))
	for i, arg := range raw {
		if err := json.Unmarshal([]byte(arg), &params[i]); err != nil {
			return nil, fmt.Errorf("argument %d is not valid JSON: %w", i, err)
		}
	}
	return params, nil
}

// jsonSafe converts msgpack maps with non string keys so the value can be printed as JSON
func jsonSafe(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = jsonSafe(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = jsonSafe(val)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}
