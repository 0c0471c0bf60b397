package setup

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/config"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/ui"
)

// WizardStep represents the current step in the wizard
type WizardStep int

const (
	StepWelcome WizardStep = iota
	StepDevice
	StepAddress
	StepGeneration
	StepMode
	StepAccount
	StepChange
	StepNetwork
	StepVerify
	StepComplete
)

const totalSteps = 4 // Device, Account, Network, Verify

// SetupResult contains the result of the setup wizard
type SetupResult struct {
	Config    *config.Config
	PublicKey string
	Cancelled bool
}

// DeviceCheck connects to the device described by cfg and returns its public key.
type DeviceCheck func(cfg *config.Config) (string, error)

// WizardModel is the main wizard Bubbletea model
type WizardModel struct {
	step       WizardStep
	configPath string
	cfg        *config.Config
	check      DeviceCheck
	quitting   bool

	deviceSelector     ui.Selector
	generationSelector ui.Selector
	modeSelector       ui.Selector
	networkSelector    ui.Selector

	addressInput ui.Prompt
	accountInput ui.Prompt
	changeInput  ui.Prompt

	probing   bool
	checkErr  string
	publicKey string
	saveErr   string

	spinner  spinner.Model
	progress progress.Model

	result *SetupResult
}

type checkResultMsg struct {
	publicKey string
	err       error
}

// NewWizard creates a wizard that edits a copy of base and saves it to
// configPath. check may be nil to skip the device check.
func NewWizard(configPath string, base *config.Config, check DeviceCheck) *WizardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 40

	cfg := *base
	m := &WizardModel{
		step:         StepWelcome,
		configPath:   configPath,
		cfg:          &cfg,
		check:        check,
		addressInput: ui.NewPrompt("host:port", validateAddress),
		accountInput: ui.NewPrompt("0", validateIndex),
		changeInput:  ui.NewPrompt("0", validateIndex),
		spinner:      sp,
		progress:     prog,
	}
	m.addressInput.SetValue(cfg.Address)
	m.accountInput.SetValue(strconv.FormatUint(uint64(cfg.Spec.Account), 10))
	m.changeInput.SetValue(strconv.FormatUint(uint64(cfg.Spec.Change), 10))
	return m
}

func validateAddress(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("expected host:port")
	}
	return nil
}

func validateIndex(s string) error {
	_, err := parseIndex(s)
	return err
}

func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || n >= uint64(derivation.HardenedBit) {
		return 0, errors.New("expected an index below 2^31")
	}
	return uint32(n), nil
}

func deviceItems(current string) []ui.SelectorItem {
	return []ui.SelectorItem{
		{ID: config.DeviceEmulator, Label: "Software emulator", Description: "keys from SOLSIGN_MNEMONIC", Current: current == config.DeviceEmulator},
		{ID: config.DeviceTCP, Label: "Device over TCP", Description: "simulator or bridge socket", Current: current == config.DeviceTCP},
	}
}

func generationItems(current apdu.Generation) []ui.SelectorItem {
	return []ui.SelectorItem{
		{ID: apdu.GenerationLegacy.String(), Label: "Legacy firmware", Description: "binary paths, single-path signing", Current: current == apdu.GenerationLegacy},
		{ID: apdu.GenerationExtended.String(), Label: "Extended firmware", Description: "text paths, multi-path signing", Current: current == apdu.GenerationExtended},
	}
}

func modeItems(current derivation.Mode) []ui.SelectorItem {
	modes := []struct {
		mode derivation.Mode
		desc string
	}{
		{derivation.ModeRoot, "m/44'/501'"},
		{derivation.ModeAccount, "m/44'/501'/account'"},
		{derivation.ModeAccountChange, "m/44'/501'/account'/change'"},
	}
	items := make([]ui.SelectorItem, 0, len(modes))
	for _, m := range modes {
		items = append(items, ui.SelectorItem{
			ID:          m.mode.String(),
			Label:       m.mode.String(),
			Description: m.desc,
			Current:     m.mode == current,
		})
	}
	return items
}

func networkItems(current string) []ui.SelectorItem {
	nets := solana.DefaultNetworks()
	items := make([]ui.SelectorItem, 0, len(nets))
	for _, name := range solana.NetworkNames() {
		items = append(items, ui.SelectorItem{
			ID:          name,
			Label:       nets[name].Name,
			Description: fmt.Sprintf("chain id %d", nets[name].ChainID),
			Current:     name == current,
		})
	}
	return items
}

// enter switches to step, resetting its selector or focusing its input.
func (m *WizardModel) enter(step WizardStep) tea.Cmd {
	m.step = step
	m.addressInput.Blur()
	m.accountInput.Blur()
	m.changeInput.Blur()

	switch step {
	case StepDevice:
		m.deviceSelector = ui.NewSelector("Where are your keys?", deviceItems(m.cfg.Device))
	case StepAddress:
		return m.addressInput.Focus()
	case StepGeneration:
		m.generationSelector = ui.NewSelector("Device firmware generation", generationItems(m.cfg.Generation))
	case StepMode:
		m.modeSelector = ui.NewSelector("Derivation path", modeItems(m.cfg.Spec.Mode))
	case StepAccount:
		return m.accountInput.Focus()
	case StepChange:
		return m.changeInput.Focus()
	case StepNetwork:
		m.networkSelector = ui.NewSelector("Network", networkItems(m.cfg.NetworkName))
	case StepVerify:
		if m.check == nil {
			m.step = StepComplete
			return nil
		}
		m.probing = true
		m.checkErr = ""
		return m.runCheck()
	}
	return nil
}

func (m *WizardModel) runCheck() tea.Cmd {
	check := m.check
	cfg := *m.cfg
	return func() tea.Msg {
		pk, err := check(&cfg)
		return checkResultMsg{publicKey: pk, err: err}
	}
}

// Init initializes the wizard
func (m WizardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

// Update handles messages
func (m WizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.result = &SetupResult{Cancelled: true}
			m.quitting = true
			return m, tea.Quit
		}
		return m.updateKey(msg)

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, msg.Width-20)
		m.deviceSelector.SetWidth(msg.Width)
		m.generationSelector.SetWidth(msg.Width)
		m.modeSelector.SetWidth(msg.Width)
		m.networkSelector.SetWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case checkResultMsg:
		m.probing = false
		if msg.err != nil {
			m.checkErr = msg.err.Error()
			return m, nil
		}
		m.publicKey = msg.publicKey
		m.step = StepComplete
		return m, nil
	}

	return m.updateInputs(msg)
}

func (m WizardModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case StepWelcome:
		if msg.Type == tea.KeyEnter {
			return m, m.enter(StepDevice)
		}
		return m, nil

	case StepDevice:
		choice, done, back := pick(&m.deviceSelector, msg)
		switch {
		case back:
			m.step = StepWelcome
		case done:
			m.cfg.Device = choice
			if choice == config.DeviceTCP {
				return m, m.enter(StepAddress)
			}
			return m, m.enter(StepGeneration)
		}
		return m, nil

	case StepAddress:
		switch msg.Type {
		case tea.KeyEsc:
			return m, m.enter(StepDevice)
		case tea.KeyEnter:
			if m.addressInput.Submit() != nil {
				return m, nil
			}
			m.cfg.Address = strings.TrimSpace(m.addressInput.Value())
			return m, m.enter(StepGeneration)
		}

	case StepGeneration:
		choice, done, back := pick(&m.generationSelector, msg)
		switch {
		case back:
			return m, m.enter(StepDevice)
		case done:
			m.cfg.Generation, _ = apdu.ParseGeneration(choice)
			return m, m.enter(StepMode)
		}
		return m, nil

	case StepMode:
		choice, done, back := pick(&m.modeSelector, msg)
		switch {
		case back:
			return m, m.enter(StepGeneration)
		case done:
			m.cfg.Spec.Mode, _ = derivation.ParseMode(choice)
			if m.cfg.Spec.Mode == derivation.ModeRoot {
				m.cfg.Spec.Account, m.cfg.Spec.Change = 0, 0
				return m, m.enter(StepNetwork)
			}
			return m, m.enter(StepAccount)
		}
		return m, nil

	case StepAccount:
		switch msg.Type {
		case tea.KeyEsc:
			return m, m.enter(StepMode)
		case tea.KeyEnter:
			if m.accountInput.Submit() != nil {
				return m, nil
			}
			m.cfg.Spec.Account, _ = parseIndex(m.accountInput.Value())
			if m.cfg.Spec.Mode == derivation.ModeAccountChange {
				return m, m.enter(StepChange)
			}
			m.cfg.Spec.Change = 0
			return m, m.enter(StepNetwork)
		}

	case StepChange:
		switch msg.Type {
		case tea.KeyEsc:
			return m, m.enter(StepAccount)
		case tea.KeyEnter:
			if m.changeInput.Submit() != nil {
				return m, nil
			}
			m.cfg.Spec.Change, _ = parseIndex(m.changeInput.Value())
			return m, m.enter(StepNetwork)
		}

	case StepNetwork:
		choice, done, back := pick(&m.networkSelector, msg)
		switch {
		case back:
			return m, m.enter(StepMode)
		case done:
			m.cfg.NetworkName = choice
			m.cfg.Network, _ = solana.LookupNetwork(choice)
			return m, m.enter(StepVerify)
		}
		return m, nil

	case StepVerify:
		if m.probing {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			return m, m.enter(StepVerify)
		case "s":
			m.step = StepComplete
		case "esc":
			return m, m.enter(StepNetwork)
		}
		return m, nil

	case StepComplete:
		if msg.Type == tea.KeyEnter {
			if err := config.Save(m.cfg, m.configPath); err != nil {
				m.saveErr = err.Error()
				return m, nil
			}
			m.result = &SetupResult{Config: m.cfg, PublicKey: m.publicKey}
			m.quitting = true
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEsc {
			return m, m.enter(StepNetwork)
		}
		return m, nil
	}

	return m.updateInputs(msg)
}

// pick forwards msg to sel and reports the outcome.
func pick(sel *ui.Selector, msg tea.KeyMsg) (choice string, done, back bool) {
	sel.Update(msg)
	switch outcome, id := sel.Outcome(); outcome {
	case ui.Chosen:
		return id, true, false
	case ui.Backed:
		return "", false, true
	default:
		return "", false, false
	}
}

func (m WizardModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case StepAddress:
		_, cmd = m.addressInput.Update(msg)
	case StepAccount:
		_, cmd = m.accountInput.Update(msg)
	case StepChange:
		_, cmd = m.changeInput.Update(msg)
	}
	return m, cmd
}

// View renders the wizard
func (m WizardModel) View() string {
	if m.quitting {
		if m.result != nil && m.result.Cancelled {
			return DimStyle.Render("\n  Setup cancelled.\n\n")
		}
		return ""
	}

	var b strings.Builder
	if m.step > StepWelcome && m.step < StepComplete {
		b.WriteString("\n")
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
	}

	switch m.step {
	case StepWelcome:
		b.WriteString(m.viewWelcome())
	case StepDevice:
		b.WriteString("\n" + m.deviceSelector.View())
	case StepAddress:
		b.WriteString(m.viewInput("Device address", "The simulator or bridge listening for APDUs.", &m.addressInput))
	case StepGeneration:
		b.WriteString("\n" + m.generationSelector.View())
	case StepMode:
		b.WriteString("\n" + m.modeSelector.View())
	case StepAccount:
		b.WriteString(m.viewInput("Account index", "Hardened automatically.", &m.accountInput))
	case StepChange:
		b.WriteString(m.viewInput("Change index", "Hardened automatically.", &m.changeInput))
	case StepNetwork:
		b.WriteString("\n" + m.networkSelector.View())
	case StepVerify:
		b.WriteString(m.viewVerify())
	case StepComplete:
		b.WriteString(m.viewComplete())
	}
	return b.String()
}

func (m WizardModel) renderProgress() string {
	var current int
	switch m.step {
	case StepDevice, StepAddress, StepGeneration:
		current = 1
	case StepMode, StepAccount, StepChange:
		current = 2
	case StepNetwork:
		current = 3
	case StepVerify:
		current = 4
	}

	bar := m.progress.ViewAs(float64(current) / float64(totalSteps))
	labels := "  Device    Account    Network    Verify"
	return fmt.Sprintf("  %s\n%s", bar, DimStyle.Render(labels))
}

func (m WizardModel) viewWelcome() string {
	box := BoxStyle.Render(
		TitleStyle.Render("Welcome to solsign") + "\n" +
			SubtitleStyle.Render("Sign Solana transactions on a hardware device") + "\n\n" +
			"Pick a device, an account path and a network.",
	)
	return "\n\n" + box + "\n\n" + HelpStyle.Render("  Press Enter to continue...")
}

func (m WizardModel) viewInput(title, hint string, p *ui.Prompt) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("  " + title))
	b.WriteString("\n\n")
	b.WriteString(SubtitleStyle.Render("  " + hint + "\n\n"))
	b.WriteString("  ")
	b.WriteString(p.View())
	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render("  Enter to continue • Esc back"))
	return b.String()
}

func (m WizardModel) viewVerify() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("  Checking device"))
	b.WriteString("\n\n")
	if m.probing {
		b.WriteString(fmt.Sprintf("  %s Reading public key for %s...\n", m.spinner.View(), m.pathString()))
		return b.String()
	}
	if m.checkErr != "" {
		b.WriteString(fmt.Sprintf("  %s\n\n", ErrorStyle.Render("✗ "+m.checkErr)))
	}
	b.WriteString(HelpStyle.Render("  Enter to retry • s skip • Esc back"))
	return b.String()
}

func (m WizardModel) viewComplete() string {
	key := DimStyle.Render("not checked")
	if m.publicKey != "" {
		key = m.publicKey
	}
	device := m.cfg.Device
	if device == config.DeviceTCP {
		device += " " + m.cfg.Address
	}

	content := fmt.Sprintf(
		"%s\n\n"+
			"Device:     %s\n"+
			"Firmware:   %s\n"+
			"Path:       %s\n"+
			"Network:    %s\n"+
			"Public key: %s",
		TitleStyle.Render("You're all set!"),
		device,
		m.cfg.Generation,
		m.pathString(),
		m.cfg.NetworkName,
		key,
	)

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(BoxStyle.Render(content))
	b.WriteString("\n\n")
	if m.saveErr != "" {
		b.WriteString(fmt.Sprintf("  %s\n\n", ErrorStyle.Render("✗ "+m.saveErr)))
	}
	b.WriteString(HelpStyle.Render(fmt.Sprintf("  Press Enter to save %s...", m.configPath)))
	return b.String()
}

func (m WizardModel) pathString() string {
	p, err := derivation.Encode(m.cfg.Spec, derivation.FormatString)
	if err != nil {
		return "?"
	}
	return p.String()
}

// RunWizard runs the setup wizard and returns the result
func RunWizard(configPath string, base *config.Config, check DeviceCheck) (*SetupResult, error) {
	p := tea.NewProgram(*NewWizard(configPath, base, check), tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}
	return finalModel.(WizardModel).result, nil
}
