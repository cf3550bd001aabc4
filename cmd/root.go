package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/msgpackrpc/cmd/call"
	"github.com/ValentinKolb/msgpackrpc/cmd/serve"
	"github.com/ValentinKolb/msgpackrpc/cmd/util"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mprpc",
		Short: "MessagePack-RPC server and client",
		Long: fmt.Sprintf(`mprpc (v%s)

A MessagePack-RPC runtime written in Go, with pooled transports
and pipelined requests over tcp, unix sockets or in-process pipes.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mprpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mprpc v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "msgpack", util.WrapString(fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Names, ", "))))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, inproc)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (debug, info, warning, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
