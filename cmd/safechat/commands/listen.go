package commands

import (
	"github.com/spf13/cobra"

	"safechat/internal/domain"
)

// listen: accept one peer and chat until either side leaves.
func (c *cli) listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Wait for a peer to connect, then chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := c.endpoint()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runChat(ctx, c.wire, domain.RoleServer, host, port, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
