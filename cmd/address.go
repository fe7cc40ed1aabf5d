package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/trezorbridge/internal/bridge"
)

var showOnDevice bool

var addressCmd = &cobra.Command{
	Use:   "address <path>",
	Short: "Derive the address at a BIP-32 path",
	Long:  `Derive the address at a BIP-32 derivation path, e.g. "m/44'/0'/0'/0/0". With --show the device displays the address for confirmation.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *bridge.Client) error {
			resp, err := c.GetAddress(ctx, args[0], viper.GetString("coin"), showOnDevice)
			if err != nil {
				return err
			}
			return printResponse(resp.Success, resp.Payload, resp.Error, resp.Message)
		})
	},
}

func init() {
	addressCmd.Flags().BoolVar(&showOnDevice, "show", false,
		"display the address on the device for confirmation")
	rootCmd.AddCommand(addressCmd)
}
