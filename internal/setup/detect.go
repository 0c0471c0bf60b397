package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"
)

// ConfigFile is the config file name inside the data directory.
const ConfigFile = "config.yaml"

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFile)
}

// NeedsSetup reports whether no config file exists yet at path.
func NeedsSetup(path string) bool {
	info, err := os.Stat(path)
	return err != nil || info.IsDir()
}

// IsInteractive returns true if running in a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PrintEnvInstructions prints setup instructions for non-interactive environments
func PrintEnvInstructions() {
	fmt.Println("solsign reads its settings from the config file or the environment.")
	fmt.Println("")
	fmt.Println("Set any of these environment variables:")
	fmt.Println("  SOLSIGN_DEVICE=emulator|tcp")
	fmt.Println("  SOLSIGN_ADDRESS=127.0.0.1:9999")
	fmt.Println("  SOLSIGN_GENERATION=legacy|extended")
	fmt.Println("  SOLSIGN_MODE=root|account|account-change")
	fmt.Println("  SOLSIGN_ACCOUNT=0  SOLSIGN_CHANGE=0")
	fmt.Println("  SOLSIGN_NETWORK=mainnet-beta|devnet|testnet")
	fmt.Println("  SOLSIGN_MNEMONIC=\"...\"  (emulator only)")
	fmt.Println("")
	fmt.Println("Or run 'solsign setup' interactively.")
}
