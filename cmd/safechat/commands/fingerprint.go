package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"safechat/internal/crypto"
)

// fingerprint: print the fingerprint of a peer's exported public key, so it
// can be compared out of band. Without a file, a fresh key pair is
// generated and shown.
func (c *cli) fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [public-key-file]",
		Short: "Print a public key fingerprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				keys, fp, err := c.wire.Identity.GenerateIdentity()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Fingerprint: %s\n", fp)
				fmt.Fprintf(out, "Public key:  %s\n", keys.ExportPublicKey())
				return nil
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pub, err := crypto.ParsePublicKey([]byte(strings.TrimSpace(string(raw))))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fingerprint: %s\n", crypto.PublicKeyFingerprint(pub))
			return nil
		},
	}
}
