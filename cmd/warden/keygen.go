package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/audit/signer"
)

var keygenFlags struct {
	algorithm string
	out       string
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key file",
	Long: `Generate a PEM-encoded private key for the keyfile signing provider.

Examples:
  warden keygen --algorithm ed25519 --out /etc/warden/signing-v1.pem
  warden keygen --algorithm rsa --out signing.pem`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenFlags.algorithm, "algorithm", "ed25519", "key algorithm (ed25519 or rsa)")
	keygenCmd.Flags().StringVarP(&keygenFlags.out, "out", "o", "", "output path for the PEM key")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenFlags.out == "" {
		return fmt.Errorf("--out is required")
	}
	if err := signer.GenerateKeyFile(keygenFlags.out, keygenFlags.algorithm); err != nil {
		return err
	}
	fmt.Printf("wrote %s key to %s\n", keygenFlags.algorithm, keygenFlags.out)
	return nil
}
