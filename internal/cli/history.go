package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/solsign/internal/history"
	"github.com/yolodolo42/solsign/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded signatures",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <signature>",
	Short: "Show one recorded signature on the configured network",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().Int("limit", 20, "maximum number of entries (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(dataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := store.List(limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No signatures recorded yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-11s  %-12s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Kind, e.Network, ui.KeyStyle.Render(e.Signature))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(dataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.Get(cfg.NetworkName, args[0])
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("%w on %s", err, cfg.NetworkName)
	}
	if err != nil {
		return err
	}
	printEntry(cmd.OutOrStdout(), e)
	if e.Kind == history.KindTransaction {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Field("Explorer", cfg.Network.TxURL(e.Signature)))
	}
	return nil
}

func printEntry(w io.Writer, e *history.Entry) {
	fmt.Fprintln(w, ui.Field("Signature", e.Signature))
	fmt.Fprintln(w, ui.Field("Public key", e.PublicKey))
	fmt.Fprintln(w, ui.Field("Path", e.Path))
	fmt.Fprintln(w, ui.Field("Kind", string(e.Kind)))
	fmt.Fprintln(w, ui.Field("Size", fmt.Sprintf("%d bytes", e.Size)))
	fmt.Fprintln(w, ui.Field("Network", e.Network))
	fmt.Fprintln(w, ui.Field("Signed at", e.CreatedAt.Local().Format("2006-01-02 15:04:05")))
}
