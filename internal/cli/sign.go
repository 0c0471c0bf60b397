package cli

import (
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/history"
	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/ui"
)

var signMessageCmd = &cobra.Command{
	Use:   "sign-message <text>",
	Short: "Sign an off-chain message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignMessage,
}

var signTxCmd = &cobra.Command{
	Use:   "sign-tx <base64-tx>",
	Short: "Sign a serialized transaction",
	Long: `Sign a base64 wire-format transaction with the device key.

The device key must be one of the transaction's required signers. The
signed transaction is printed in base64, ready to broadcast. With
--message the argument is a bare base64 message instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runSignTx,
}

func init() {
	rootCmd.AddCommand(signMessageCmd)
	rootCmd.AddCommand(signTxCmd)

	signMessageCmd.Flags().Bool("hex", false, "the message is 0x-prefixed hex")
	signTxCmd.Flags().Bool("message", false, "the argument is a message without signatures")
}

func runSignMessage(cmd *cobra.Command, args []string) (err error) {
	msg := []byte(args[0])
	if isHex, _ := cmd.Flags().GetBool("hex"); isHex {
		if msg, err = hexutil.Decode(args[0]); err != nil {
			return fmt.Errorf("invalid hex message: %w", err)
		}
	}
	if len(msg) == 0 {
		return fmt.Errorf("message is empty")
	}

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

	sig, err := dev.session.SignMessage(cmd.Context(), msg)
	if err != nil {
		return signError(err)
	}
	dev.record(history.KindMessage, sig, len(msg))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Message signed"))
	fmt.Fprintln(out, ui.Field("Signature", solana.EncodeSignature(sig)))
	fmt.Fprintln(out, ui.Field("Hex", hexutil.Encode(sig)))
	return nil
}

func runSignTx(cmd *cobra.Command, args []string) (err error) {
	raw, err := base64.StdEncoding.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("invalid base64 transaction: %w", err)
	}
	var tx *solana.Transaction
	if bare, _ := cmd.Flags().GetBool("message"); bare {
		tx, err = solana.NewTransaction(raw)
	} else {
		tx, err = solana.ParseTransaction(raw)
	}
	if err != nil {
		return err
	}
	msg, err := tx.SerializeSignableMessage()
	if err != nil {
		return err
	}

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

	if _, err := dev.session.SignTransaction(cmd.Context(), tx); err != nil {
		return signError(err)
	}
	pk, err := dev.session.PublicKey()
	if err != nil {
		return err
	}
	sig := tx.Signature(pk)
	dev.record(history.KindTransaction, sig, len(msg))

	signed, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	encoded := solana.EncodeSignature(sig)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Transaction signed"))
	fmt.Fprintln(out, ui.Field("Signature", encoded))
	fmt.Fprintln(out, ui.Field("Explorer", cfg.Network.TxURL(encoded)))
	fmt.Fprintln(out, ui.Field("Transaction", base64.StdEncoding.EncodeToString(signed)))
	return nil
}

func signError(err error) error {
	if apdu.IsRejectedByUser(err) {
		return fmt.Errorf("signing rejected on device: %w", err)
	}
	return fmt.Errorf("signing failed: %w", err)
}
