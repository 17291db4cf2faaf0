package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"safechat/internal/app"
	"safechat/internal/crypto"
)

// cli is the state shared by all subcommands of one invocation.
type cli struct {
	v          *viper.Viper
	configFile string
	wire       *app.Wire
}

// Execute runs the safechat CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: app.NewViper()}

	root := &cobra.Command{
		Use:          "safechat",
		Short:        "Encrypted one-to-one chat over TCP",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.BindFlags(c.v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := app.Load(c.v, c.configFile)
			if err != nil {
				return err
			}
			c.wire, err = app.NewWire(cfg, cmd.ErrOrStderr())
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (default $HOME/.safechat/safechat.yaml)")
	pf.String("host", "127.0.0.1", "address to listen on or dial")
	pf.Int("port", 9000, "TCP port to listen on or dial")
	pf.String("cipher", crypto.CBC{}.Name(), "message cipher: cbc or cbc-hmac (both peers must match)")
	pf.Int("rsa-bits", crypto.DefaultRSABits, "RSA modulus size for connection keys")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("metrics-addr", "", "serve prometheus metrics on this address (disabled when empty)")

	root.AddCommand(c.listenCmd(), c.dialCmd(), c.fingerprintCmd())
	return root
}

func (c *cli) endpoint() (string, int, error) {
	cfg := c.wire.Config
	if cfg.Host == "" {
		return "", 0, fmt.Errorf("--host required")
	}
	return cfg.Host, cfg.Port, nil
}
