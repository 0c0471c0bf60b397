package setup

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/config"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/testutil"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func drive(m tea.Model, keys ...string) (WizardModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		m, cmd = m.Update(key(k))
	}
	return m.(WizardModel), cmd
}

func TestNewWizard_Initialization(t *testing.T) {
	t.Run("initializes with StepWelcome", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		assert.Equal(t, StepWelcome, m.step)
		assert.Contains(t, m.View(), "Welcome to solsign")
	})

	t.Run("inputs start from base config", func(t *testing.T) {
		base := baseConfig(t)
		base.Spec.Account = 4
		m := NewWizard("", base, nil)
		assert.Equal(t, "4", m.accountInput.Value())
		assert.Equal(t, base.Address, m.addressInput.Value())
	})

	t.Run("base config is not modified", func(t *testing.T) {
		base := baseConfig(t)
		m := NewWizard("", base, nil)
		got, _ := drive(m, "enter", "2", "enter")
		assert.Equal(t, config.DeviceTCP, got.cfg.Device)
		assert.Equal(t, config.DeviceEmulator, base.Device)
	})
}

func TestWizard_FullFlow(t *testing.T) {
	dir := testutil.TempDir(t)
	path := ConfigPath(dir)

	var checked *config.Config
	check := func(cfg *config.Config) (string, error) {
		checked = cfg
		return "PubKey111", nil
	}
	m := NewWizard(path, baseConfig(t), check)

	got, _ := drive(m, "enter")
	assert.Equal(t, StepDevice, got.step)

	got, _ = drive(got, "enter")
	assert.Equal(t, StepGeneration, got.step)

	got, _ = drive(got, "down", "enter")
	assert.Equal(t, StepMode, got.step)
	assert.Equal(t, apdu.GenerationExtended, got.cfg.Generation)

	got, _ = drive(got, "2", "enter")
	assert.Equal(t, StepAccount, got.step)

	got.accountInput.SetValue("5")
	got, _ = drive(got, "enter")
	assert.Equal(t, StepNetwork, got.step)

	got, cmd := drive(got, "1", "enter")
	assert.Equal(t, StepVerify, got.step)
	assert.True(t, got.probing)
	require.NotNil(t, cmd)

	next, _ := got.Update(cmd())
	got = next.(WizardModel)
	assert.Equal(t, StepComplete, got.step)
	assert.Contains(t, got.View(), "PubKey111")
	require.NotNil(t, checked)
	assert.Equal(t, "devnet", checked.NetworkName)

	got, cmd = drive(got, "enter")
	assert.True(t, got.quitting)
	require.NotNil(t, cmd)
	require.NotNil(t, got.result)
	assert.False(t, got.result.Cancelled)
	assert.Equal(t, "PubKey111", got.result.PublicKey)
	assert.False(t, NeedsSetup(path))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	config.SetDefaults(v)
	saved, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, apdu.GenerationExtended, saved.Generation)
	assert.Equal(t, derivation.Spec{Account: 5, Mode: derivation.ModeAccount}, saved.Spec)
	assert.Equal(t, "devnet", saved.NetworkName)
}

func TestWizard_TCPAddress(t *testing.T) {
	m := NewWizard("", baseConfig(t), nil)
	got, _ := drive(m, "enter", "2", "enter")
	require.Equal(t, StepAddress, got.step)

	got.addressInput.SetValue("not an address")
	got, _ = drive(got, "enter")
	assert.Equal(t, StepAddress, got.step)
	assert.Error(t, got.addressInput.Err())

	got.addressInput.SetValue("localhost:4000")
	got, _ = drive(got, "enter")
	assert.Equal(t, StepGeneration, got.step)
	assert.Equal(t, config.DeviceTCP, got.cfg.Device)
	assert.Equal(t, "localhost:4000", got.cfg.Address)
}

func TestWizard_Navigation(t *testing.T) {
	t.Run("root mode skips indexes", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		got, _ := drive(m, "enter", "enter", "enter", "1", "enter")
		assert.Equal(t, StepNetwork, got.step)
		assert.Equal(t, derivation.ModeRoot, got.cfg.Spec.Mode)
	})

	t.Run("account-change asks for change", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		got, _ := drive(m, "enter", "enter", "enter", "3", "enter", "enter")
		assert.Equal(t, StepChange, got.step)

		got.changeInput.SetValue("x")
		got, _ = drive(got, "enter")
		assert.Equal(t, StepChange, got.step)

		got.changeInput.SetValue("2")
		got, _ = drive(got, "enter")
		assert.Equal(t, StepNetwork, got.step)
		assert.Equal(t, uint32(2), got.cfg.Spec.Change)
	})

	t.Run("esc goes back", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		got, _ := drive(m, "enter", "enter", "esc")
		assert.Equal(t, StepDevice, got.step)
		assert.True(t, got.deviceSelector.Active())
	})

	t.Run("no device check skips verification", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		got, _ := drive(m, "enter", "enter", "enter", "1", "enter", "enter")
		assert.Equal(t, StepComplete, got.step)
	})

	t.Run("ctrl+c cancels", func(t *testing.T) {
		m := NewWizard("", baseConfig(t), nil)
		got, cmd := drive(m, "enter", "ctrl+c")
		require.NotNil(t, cmd)
		require.NotNil(t, got.result)
		assert.True(t, got.result.Cancelled)
		assert.Contains(t, got.View(), "Setup cancelled")
	})
}

func TestWizard_CheckFailure(t *testing.T) {
	calls := 0
	check := func(cfg *config.Config) (string, error) {
		calls++
		return "", errors.New("device status 0x6985: rejected by user")
	}
	m := NewWizard("", baseConfig(t), check)
	got, cmd := drive(m, "enter", "enter", "enter", "1", "enter", "enter")
	require.Equal(t, StepVerify, got.step)

	next, _ := got.Update(cmd())
	got = next.(WizardModel)
	assert.Equal(t, StepVerify, got.step)
	assert.False(t, got.probing)
	assert.Contains(t, got.View(), "rejected by user")

	got, cmd = drive(got, "enter")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 2, calls)

	got.probing = false
	got, _ = drive(got, "s")
	assert.Equal(t, StepComplete, got.step)
	assert.Contains(t, got.View(), "not checked")
}
