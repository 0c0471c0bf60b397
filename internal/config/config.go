// Package config loads solsign settings from the config file, SOLSIGN_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/wallet"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOLSIGN"

// Keys
const (
	KeySigner     = "signer"
	KeyDevice     = "device"
	KeyAddress    = "address"
	KeyGeneration = "generation"
	KeyMode       = "mode"
	KeyAccount    = "account"
	KeyChange     = "change"
	KeyCurve      = "curve"
	KeyNetwork    = "network"
	KeyTimeout    = "timeout"
	KeyLogLevel   = "log-level"
	KeyMnemonic   = "mnemonic"
)

// Device kinds
const (
	DeviceEmulator = "emulator"
	DeviceTCP      = "tcp"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the validated runtime configuration.
type Config struct {
	Signer      wallet.SignerType
	Device      string
	Address     string
	Generation  apdu.Generation
	Spec        derivation.Spec
	Curve       apdu.Curve
	NetworkName string
	Network     *solana.NetworkConfig
	Timeout     time.Duration
	LogLevel    string

	// Mnemonic seeds the emulator. It is only read from the environment and
	// never written back.
	Mnemonic string
}

// Dir returns the default config and data directory, $HOME/.solsign.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".solsign"
	}
	return filepath.Join(home, ".solsign")
}

// SetDefaults registers defaults and environment handling on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySigner, string(wallet.SignerTypeLedger))
	v.SetDefault(KeyDevice, DeviceEmulator)
	v.SetDefault(KeyAddress, "127.0.0.1:9999")
	v.SetDefault(KeyGeneration, apdu.GenerationLegacy.String())
	v.SetDefault(KeyMode, derivation.ModeAccountChange.String())
	v.SetDefault(KeyAccount, 0)
	v.SetDefault(KeyChange, 0)
	v.SetDefault(KeyCurve, apdu.CurveEd25519.String())
	v.SetDefault(KeyNetwork, "mainnet-beta")
	v.SetDefault(KeyTimeout, 2*time.Minute)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads and validates every setting from v.
func Load(v *viper.Viper) (*Config, error) {
	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	cfg := &Config{
		Device:   strings.ToLower(strings.TrimSpace(v.GetString(KeyDevice))),
		Address:  strings.TrimSpace(v.GetString(KeyAddress)),
		Timeout:  v.GetDuration(KeyTimeout),
		LogLevel: v.GetString(KeyLogLevel),
		Mnemonic: strings.TrimSpace(v.GetString(KeyMnemonic)),
	}
	cfg.NetworkName = v.GetString(KeyNetwork)

	var err error
	if cfg.Signer, err = wallet.ParseSignerType(v.GetString(KeySigner)); err != nil {
		fail(KeySigner, err)
	}
	switch cfg.Device {
	case DeviceEmulator:
	case DeviceTCP:
		if cfg.Address == "" {
			fail(KeyAddress, errors.New("required for tcp devices"))
		}
	default:
		fail(KeyDevice, fmt.Errorf("unknown device %q", cfg.Device))
	}
	if cfg.Generation, err = apdu.ParseGeneration(v.GetString(KeyGeneration)); err != nil {
		fail(KeyGeneration, err)
	}
	if cfg.Spec.Mode, err = derivation.ParseMode(v.GetString(KeyMode)); err != nil {
		fail(KeyMode, err)
	}
	if cfg.Spec.Account, err = index(v, KeyAccount); err != nil {
		fail(KeyAccount, err)
	}
	if cfg.Spec.Change, err = index(v, KeyChange); err != nil {
		fail(KeyChange, err)
	}
	if cfg.Curve, err = apdu.ParseCurve(v.GetString(KeyCurve)); err != nil {
		fail(KeyCurve, err)
	}
	if cfg.Network, err = solana.LookupNetwork(cfg.NetworkName); err != nil {
		fail(KeyNetwork, err)
	}
	if cfg.Timeout < 0 {
		fail(KeyTimeout, errors.New("must not be negative"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return cfg, nil
}

// index reads a derivation index. Hardened values are rejected since the
// encoder sets the hardened bit itself.
func index(v *viper.Viper, key string) (uint32, error) {
	n := v.GetInt64(key)
	if n < 0 || n >= int64(derivation.HardenedBit) {
		return 0, fmt.Errorf("index %d out of range", n)
	}
	return uint32(n), nil
}

// SessionConfig turns the configuration into wallet session settings.
func (c *Config) SessionConfig(onDisconnect func()) wallet.SessionConfig {
	return wallet.SessionConfig{
		Generation:   c.Generation,
		Spec:         c.Spec,
		Curve:        c.Curve,
		ChainID:      c.Network.ChainID,
		TxType:       apdu.TxTypeNormal,
		Timeout:      c.Timeout,
		OnDisconnect: onDisconnect,
	}
}

// Save writes the persistent settings of cfg to path as YAML. The mnemonic
// is never written.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set(KeySigner, string(cfg.Signer))
	v.Set(KeyDevice, cfg.Device)
	v.Set(KeyAddress, cfg.Address)
	v.Set(KeyGeneration, cfg.Generation.String())
	v.Set(KeyMode, cfg.Spec.Mode.String())
	v.Set(KeyAccount, cfg.Spec.Account)
	v.Set(KeyChange, cfg.Spec.Change)
	v.Set(KeyCurve, cfg.Curve.String())
	v.Set(KeyNetwork, cfg.NetworkName)
	v.Set(KeyTimeout, cfg.Timeout.String())
	if cfg.LogLevel != "" {
		v.Set(KeyLogLevel, cfg.LogLevel)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(path, 0600)
}
