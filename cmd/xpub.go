package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/trezorbridge/internal/bridge"
)

var xpubCmd = &cobra.Command{
	Use:   "xpub <path>",
	Short: "Retrieve the extended public key at a BIP-32 path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *bridge.Client) error {
			resp, err := c.GetPublicKey(ctx, args[0], viper.GetString("coin"))
			if err != nil {
				return err
			}
			return printResponse(resp.Success, resp.Payload, resp.Error, resp.Message)
		})
	},
}

func init() {
	rootCmd.AddCommand(xpubCmd)
}
