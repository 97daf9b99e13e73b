package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/audit/rotate"
	"veridian-hq/warden/pkg/audit/signer"
)

var rotateFlags struct {
	hmacKey    string
	keyFile    string
	keyVersion string
}

var rotateCmd = &cobra.Command{
	Use:   "rotate-keys",
	Short: "Re-sign every chain under a new signing key",
	Long: `Re-sign all signature sidecars with a new key and record the rotation in
the key rotation log. Exactly one of --new-hmac-key or --new-key-file must
be given.

Examples:
  # Rotate to a new HMAC secret
  warden rotate-keys --new-hmac-key <secret> --new-key-version v2

  # Rotate to an asymmetric key file
  warden rotate-keys --new-key-file /etc/warden/signing-v2.pem --new-key-version v2`,
	RunE: runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().StringVar(&rotateFlags.hmacKey, "new-hmac-key", "", "new HMAC secret")
	rotateCmd.Flags().StringVar(&rotateFlags.keyFile, "new-key-file", "", "new PEM key file")
	rotateCmd.Flags().StringVar(&rotateFlags.keyVersion, "new-key-version", "", "version label for the new key")
}

func runRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	if rotateFlags.keyVersion == "" {
		return fmt.Errorf("--new-key-version is required")
	}
	if (rotateFlags.hmacKey == "") == (rotateFlags.keyFile == "") {
		return fmt.Errorf("exactly one of --new-hmac-key or --new-key-file is required")
	}

	var provider signer.Provider
	if rotateFlags.hmacKey != "" {
		provider, err = signer.NewHMACProvider([]byte(rotateFlags.hmacKey), rotateFlags.keyVersion)
	} else {
		provider, err = signer.NewKeyfileProvider(rotateFlags.keyFile, rotateFlags.keyVersion)
	}
	if err != nil {
		return err
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log, err := rotate.NewSQLiteLog(st.db)
	if err != nil {
		return err
	}

	result, err := rotate.NewRotator(st.events, provider, log, logger).Rotate(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("rotated %d chains, re-signed %d events under key %s\n",
		result.Actors, result.Resigned, rotateFlags.keyVersion)
	return nil
}
