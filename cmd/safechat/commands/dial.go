package commands

import (
	"github.com/spf13/cobra"

	"safechat/internal/domain"
)

// dial: connect to a listening peer and chat until either side leaves.
func (c *cli) dialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dial",
		Short: "Connect to a listening peer, then chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := c.endpoint()
			if err != nil {
				return err
			}
			if port == 0 {
				return errNoPort
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runChat(ctx, c.wire, domain.RoleClient, host, port, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
