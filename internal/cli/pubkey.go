package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/ui"
)

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Show the device public key for the configured path",
	RunE:  runPubkey,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the derivation path sent to the device",
	Args:  cobra.NoArgs,
	RunE:  runPath,
}

func init() {
	rootCmd.AddCommand(pubkeyCmd)
	rootCmd.AddCommand(pathCmd)

	pubkeyCmd.Flags().Bool("confirm", false, "ask the device to display the key for confirmation")
}

func runPubkey(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openDevice(cmd.Context(), cfg, approver())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	pk, err := dev.session.PublicKey()
	if err != nil {
		return err
	}
	if confirm, _ := cmd.Flags().GetBool("confirm"); confirm {
		if pk, err = dev.session.ConfirmPublicKey(cmd.Context()); err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Field("Path", dev.session.Path().String()))
	fmt.Fprintln(out, ui.Field("Public key", pk.String()))
	fmt.Fprintln(out, ui.Field("Explorer", cfg.Network.AddressURL(pk.String())))
	return nil
}

func runPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := derivation.Encode(cfg.Spec, cfg.Generation.PathFormat())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Field("Generation", cfg.Generation.String()))
	fmt.Fprintln(out, ui.Field("Path", path.String()))
	fmt.Fprintln(out, ui.Field("Depth", fmt.Sprint(path.Depth())))
	switch path.Format() {
	case derivation.FormatBinary:
		raw, err := path.Bytes()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Field("Encoded", hexutil.Encode(raw)))
	case derivation.FormatString:
		text, err := path.Text()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Field("Encoded", text))
	}
	return nil
}
