package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/solsign/internal/config"
	"github.com/yolodolo42/solsign/internal/emulator"
	"github.com/yolodolo42/solsign/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Long: `Run the interactive setup wizard to configure solsign.

This command guides you through:
  - Choosing the device and its generation
  - Picking the derivation path and network
  - Checking that the device answers with a public key

Use this command to reconfigure solsign at any time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !setup.IsInteractive() {
			setup.PrintEnvInstructions()
			return fmt.Errorf("setup requires an interactive terminal")
		}
		return runSetup(cmd)
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command) error {
	base, err := loadConfig()
	if err != nil {
		return err
	}
	// The wizard owns the terminal, so the emulator cannot ask for
	// approval and the mnemonic must come from the environment.
	check := func(cfg *config.Config) (string, error) {
		return checkDevice(cmd.Context(), cfg)
	}

	result, err := setup.RunWizard(configPath(), base, check)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	if result == nil || result.Cancelled {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nSetup complete! Run 'solsign pubkey' to check the device.")
	return nil
}

func checkDevice(ctx context.Context, cfg *config.Config) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Device == config.DeviceEmulator && cfg.Mnemonic == "" {
		return "", errMnemonicRequired
	}
	dev, err := openDevice(ctx, cfg, emulator.ApproveAll)
	if err != nil {
		return "", err
	}
	defer dev.Close()

	pk, err := dev.session.PublicKey()
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}
