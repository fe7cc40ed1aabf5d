package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/trezorbridge/internal/bridge"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Print a snapshot of the connected device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *bridge.Client) error {
			resp, err := c.GetFeatures(ctx)
			if err != nil {
				return err
			}
			return printResponse(resp.Success, resp.Payload, resp.Error, resp.Message)
		})
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}

// printResponse renders a successful payload as indented JSON on stdout, or
// the worker-reported failure on stderr with a non-zero exit.
func printResponse(success bool, payload any, errMsg, message string) error {
	if !success {
		if message != "" {
			return fmt.Errorf("worker error: %s (%s)", errMsg, message)
		}
		return fmt.Errorf("worker error: %s", errMsg)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
