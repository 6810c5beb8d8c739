package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	socketapi "github.com/i474232898/querycache/internal/api/socket"
	"github.com/i474232898/querycache/internal/config"
)

var errNotOK = errors.New("daemon did not return a value")

// newRootCmd creates the client command. It sends the single request type
// the daemon understands and prints the response frame.
func newRootCmd() *cobra.Command {
	var (
		socket  string
		service string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "querycache [query]",
		Short: "Read the latest cached value from a querycache daemon",
		Long: `Asks a running querycached for its cached value and prints the JSON
response frame. Without a query the daemon's default target is returned.
The command exits non-zero when the daemon has no value yet.`,
		Example: `  # Default target of the location daemon
  querycache

  # A specific place from the weather daemon
  querycache --service weather "Izmir,TR"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socket == "" {
				socket = os.Getenv("SOCKET_PATH")
			}
			if socket == "" {
				socket = config.DefaultSocketPath(service)
			}

			var key string
			if len(args) == 1 {
				key = args[0]
			}

			resp, err := socketapi.Ask(cmd.Context(), socket, key, timeout)
			if err != nil {
				cmd.PrintErrln("Error:", err)
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.OK {
				return errNotOK
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "daemon socket path (default $SOCKET_PATH or /tmp/querycache-<service>.sock)")
	cmd.Flags().StringVar(&service, "service", config.ServiceLocation, "service whose default socket to use when --socket is unset")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "request timeout")

	return cmd
}
