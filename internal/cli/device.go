package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/yolodolo42/solsign/internal/config"
	"github.com/yolodolo42/solsign/internal/emulator"
	"github.com/yolodolo42/solsign/internal/history"
	"github.com/yolodolo42/solsign/internal/setup"
	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/transport"
	"github.com/yolodolo42/solsign/internal/wallet"
	"golang.org/x/term"
)

const dialTimeout = 5 * time.Second

var errMnemonicRequired = errors.New("emulator needs a mnemonic: set SOLSIGN_MNEMONIC")

// device bundles an initialized session with the signature history.
type device struct {
	cfg     *config.Config
	session *wallet.Session
	history *history.Store
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// openDevice connects to the configured device and reads its public key.
// History is optional: when it cannot be opened signing still works.
func openDevice(ctx context.Context, cfg *config.Config, approve emulator.Approver) (*device, error) {
	factory, err := transportFactory(cfg, approve)
	if err != nil {
		return nil, err
	}

	signer, err := wallet.NewSigner(cfg.Signer, transport.NewShared(factory), cfg.SessionConfig(func() {
		log.Warn("Device disconnected")
	}))
	if err != nil {
		return nil, err
	}
	session, ok := signer.(*wallet.Session)
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrUnsupportedSigner, cfg.Signer)
	}
	if _, err := session.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to device: %w", err)
	}

	d := &device{cfg: cfg, session: session}
	if d.history, err = history.Open(dataDir()); err != nil {
		log.WithError(err).Warn("Signature history unavailable")
	}
	return d, nil
}

// transportFactory builds the connection factory for cfg.Device.
func transportFactory(cfg *config.Config, approve emulator.Approver) (transport.Factory, error) {
	switch cfg.Device {
	case config.DeviceTCP:
		addr := cfg.Address
		return func() (transport.Transport, error) {
			return transport.NewTCP(addr, dialTimeout), nil
		}, nil
	case config.DeviceEmulator:
		mnemonic := cfg.Mnemonic
		if mnemonic == "" {
			if !setup.IsInteractive() {
				return nil, errMnemonicRequired
			}
			var err error
			if mnemonic, err = readSecret("Emulator mnemonic: "); err != nil {
				return nil, fmt.Errorf("failed to read mnemonic: %w", err)
			}
		}
		dev, err := emulator.New(mnemonic, "", emulator.WithApprover(approve))
		if err != nil {
			return nil, err
		}
		return func() (transport.Transport, error) { return dev, nil }, nil
	default:
		return nil, fmt.Errorf("%w: unknown device %q", config.ErrInvalidConfig, cfg.Device)
	}
}

// record stores a signature in the history. Failures are logged only.
func (d *device) record(kind history.Kind, sig []byte, size int) {
	if d.history == nil {
		return
	}
	pk, err := d.session.PublicKey()
	if err != nil {
		return
	}
	err = d.history.Record(history.Entry{
		Network:   d.cfg.NetworkName,
		Signature: solana.EncodeSignature(sig),
		PublicKey: pk.String(),
		Path:      d.session.Path().String(),
		Kind:      kind,
		Size:      size,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record signature")
	}
}

func (d *device) Close() error {
	var result *multierror.Error
	if err := d.session.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close session: %w", err))
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close history: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// approver picks how emulated button presses are answered: on a terminal the
// user is asked, otherwise everything is approved.
func approver() emulator.Approver {
	if !setup.IsInteractive() {
		return emulator.ApproveAll
	}
	return askApproval
}

func askApproval(req emulator.Request) bool {
	action := "Show public key"
	if req.Kind == emulator.KindSign {
		action = fmt.Sprintf("Sign %d byte message", len(req.Message))
	}
	fmt.Fprintf(os.Stderr, "[emulator] %s for %s? [y/N] ", action, accounts.DerivationPath(req.Path))

	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
