package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/yolodolo42/solsign/internal/config"
	"github.com/yolodolo42/solsign/internal/setup"
)

var log = logrus.WithField("prefix", "cli")

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "solsign",
		Short: "Solana signing through hardware wallets",
		Long: `solsign talks to Solana hardware signing devices over APDU.

It derives the configured account path, reads the device public key and
asks the device to sign transactions and off-chain messages. Every
signature is kept in a local history.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(cmd, viper.GetString(config.KeyLogLevel))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !setup.NeedsSetup(configPath()) {
				return cmd.Help()
			}
			if !setup.IsInteractive() {
				setup.PrintEnvInstructions()
				return fmt.Errorf("setup required: run solsign setup interactively or set environment variables")
			}
			return runSetup(cmd)
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.solsign/config.yaml)")
	flags.String(config.KeyDevice, "", "device to talk to: emulator or tcp")
	flags.String(config.KeyAddress, "", "host:port of a tcp device")
	flags.String(config.KeyGeneration, "", "device generation: legacy or extended")
	flags.String(config.KeyMode, "", "derivation mode: root, account or account-change")
	flags.Uint32(config.KeyAccount, 0, "account index")
	flags.Uint32(config.KeyChange, 0, "change index")
	flags.String(config.KeyNetwork, "", "solana cluster: mainnet-beta, devnet or testnet")
	flags.Duration(config.KeyTimeout, 0, "device exchange timeout")
	flags.String(config.KeyLogLevel, "", "log level")

	bindFlags(viper.GetViper())
}

// flagKeys are the config keys that can be overridden on the command line.
var flagKeys = []string{
	config.KeyDevice, config.KeyAddress, config.KeyGeneration, config.KeyMode,
	config.KeyAccount, config.KeyChange, config.KeyNetwork, config.KeyTimeout,
	config.KeyLogLevel,
}

func bindFlags(v *viper.Viper) {
	for _, key := range flagKeys {
		_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := config.Dir()
		if err := os.MkdirAll(configDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}

		viper.AddConfigPath(configDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Silently ignore missing config file - it's optional
	_ = viper.ReadInConfig()
}

// configPath is where setup writes the configuration.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return setup.ConfigPath(config.Dir())
}

// dataDir holds the history database next to the config file.
func dataDir() string {
	return filepath.Dir(configPath())
}

func configureLogging(cmd *cobra.Command, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: log-level: %v", config.ErrInvalidConfig, err)
	}
	formatter := new(prefixed.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)
	logrus.SetOutput(cmd.ErrOrStderr())
	logrus.SetLevel(lvl)
	return nil
}
