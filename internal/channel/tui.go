package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tiaapa/internal/domain"
	"tiaapa/internal/locale"
	"tiaapa/internal/media"
	"tiaapa/internal/session"
)

// TUI implements domain.Channel as a full-screen terminal chat.
type TUI struct {
	session   *session.Controller
	bus       domain.EventBus
	catalog   *locale.Catalog
	openImage func(path string) (domain.Image, error)
	logger    *slog.Logger
	opts      []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
}

type TUIConfig struct {
	Session   *session.Controller
	Bus       domain.EventBus
	Catalog   *locale.Catalog
	OpenImage func(path string) (domain.Image, error)
	Logger    *slog.Logger

	// ProgramOptions are passed to tea.NewProgram after the defaults.
	ProgramOptions []tea.ProgramOption
}

func NewTUI(cfg TUIConfig) *TUI {
	if cfg.OpenImage == nil {
		cfg.OpenImage = media.OpenImage
	}
	return &TUI{
		session:   cfg.Session,
		bus:       cfg.Bus,
		catalog:   cfg.Catalog,
		openImage: cfg.OpenImage,
		logger:    cfg.Logger,
		opts:      cfg.ProgramOptions,
	}
}

func (t *TUI) Name() string { return "tui" }

// Start runs the TUI and blocks until the user quits or ctx is cancelled.
func (t *TUI) Start(ctx context.Context) error {
	model := newChatModel(ctx, t.session, t.catalog, t.openImage)
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, t.opts...)
	p := tea.NewProgram(model, opts...)

	t.mu.Lock()
	t.program = p
	t.mu.Unlock()

	if t.bus != nil {
		// Send blocks until the event loop reads the message, and events are
		// also published from inside Update, so delivery runs on its own goroutine.
		t.bus.Subscribe(t.Name(), func(ev domain.Event) {
			go p.Send(sessionEventMsg{event: ev})
		})
		defer t.bus.Unsubscribe(t.Name())
	}

	t.logger.Info("tui started")
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *TUI) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.program != nil {
		t.program.Quit()
	}
	return nil
}

type sessionEventMsg struct{ event domain.Event }

type submitDoneMsg struct{ err error }

type voiceDoneMsg struct {
	wasRecording bool
	err          error
}

type tuiStyles struct {
	title    lipgloss.Style
	subtitle lipgloss.Style
	user     lipgloss.Style
	answer   lipgloss.Style
	key      lipgloss.Style
	muted    lipgloss.Style
	notice   lipgloss.Style
	warning  lipgloss.Style
	spinner  lipgloss.Style
}

func defaultTUIStyles() tuiStyles {
	green := lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#8BC34A"}
	return tuiStyles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(green),
		subtitle: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5f6368", Dark: "#9aa0a6"}),
		user:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}),
		answer:   lipgloss.NewStyle().Bold(true).Foreground(green),
		key:      lipgloss.NewStyle().Bold(true),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		spinner:  lipgloss.NewStyle().Foreground(green),
	}
}

const tuiHelp = "enter send • ctrl+r voice • ctrl+o image • ctrl+x remove image • ctrl+l reset • ctrl+c quit"

type chatModel struct {
	ctx       context.Context
	session   *session.Controller
	catalog   *locale.Catalog
	openImage func(path string) (domain.Image, error)
	styles    tuiStyles

	input        textinput.Model
	pathInput    textinput.Model
	pickingImage bool
	viewport     viewport.Model
	spinner      spinner.Model

	state     session.State
	lastDraft string
	notice    string
	warning   bool
	width     int
	height    int
	ready     bool
}

func newChatModel(ctx context.Context, sess *session.Controller, catalog *locale.Catalog, openImage func(string) (domain.Image, error)) chatModel {
	styles := defaultTUIStyles()

	ti := textinput.New()
	ti.Placeholder = catalog.Placeholder
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	pi := textinput.New()
	pi.Placeholder = "/path/to/leaf.jpg"
	pi.Prompt = "image: "
	pi.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.spinner

	vp := viewport.New(80, 20)

	m := chatModel{
		ctx:       ctx,
		session:   sess,
		catalog:   catalog,
		openImage: openImage,
		styles:    styles,
		input:     ti,
		pathInput: pi,
		viewport:  vp,
		spinner:   sp,
		state:     sess.Snapshot(),
	}
	m.lastDraft = m.state.Draft
	m.input.SetValue(m.state.Draft)
	m.refreshViewport()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight, footerHeight := 3, 5
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 3)
		m.input.Width = msg.Width - 4
		m.pathInput.Width = msg.Width - 10
		m.ready = true
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if m.pickingImage {
			return m.updateImagePrompt(msg)
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyCtrlR:
			wasRecording := m.state.Recording
			sess, ctx := m.session, m.ctx
			return m, func() tea.Msg {
				return voiceDoneMsg{wasRecording: wasRecording, err: sess.ToggleVoice(ctx)}
			}
		case tea.KeyCtrlO:
			m.pickingImage = true
			m.input.Blur()
			m.pathInput.SetValue("")
			cmd := m.pathInput.Focus()
			return m, cmd
		case tea.KeyCtrlX:
			if m.state.Image != nil {
				m.session.ClearImage()
				m.setNotice(m.catalog.ImageRemoved, false)
			}
			return m, nil
		case tea.KeyCtrlL:
			m.session.Reset()
			m.setNotice(m.catalog.ChatReset, false)
			m.sync()
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != m.lastDraft {
			m.lastDraft = v
			m.session.SetDraft(v)
		}
		return m, cmd

	case sessionEventMsg:
		if msg.event.Type == domain.EventWarning {
			m.setNotice(msg.event.Warning, true)
		}
		m.sync()
		return m, nil

	case submitDoneMsg:
		if errors.Is(msg.err, session.ErrBusy) {
			m.setNotice(m.catalog.Thinking, false)
		}
		m.sync()
		return m, nil

	case voiceDoneMsg:
		switch {
		case errors.Is(msg.err, session.ErrSpeechUnsupported):
			// the warning event carries the message
		case msg.err != nil:
			m.setNotice(msg.err.Error(), true)
		case msg.wasRecording:
			m.setNotice(m.catalog.VoiceStopped, false)
		default:
			m.setNotice(m.catalog.VoiceListening, false)
		}
		m.sync()
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViewport()
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	if m.state.Loading {
		m.setNotice(m.catalog.Thinking, false)
		return m, nil
	}
	if v := m.input.Value(); v != m.lastDraft {
		m.lastDraft = v
		m.session.SetDraft(v)
	}
	if strings.TrimSpace(m.input.Value()) == "" && m.state.Image == nil {
		return m, nil
	}

	m.notice = ""
	m.state.Loading = true
	m.refreshViewport()
	sess, ctx := m.session, m.ctx
	return m, tea.Batch(
		func() tea.Msg { return submitDoneMsg{err: sess.Submit(ctx)} },
		m.spinner.Tick,
	)
}

func (m chatModel) updateImagePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.pickingImage = false
		m.pathInput.Blur()
		cmd := m.input.Focus()
		return m, cmd
	case tea.KeyEnter:
		path := strings.TrimSpace(m.pathInput.Value())
		m.pickingImage = false
		m.pathInput.Blur()
		if path != "" {
			img, err := m.openImage(path)
			if err != nil {
				m.setNotice(err.Error(), true)
			} else {
				m.session.StageImage(img)
				m.setNotice(m.catalog.ImageAttached+": "+img.Name, false)
			}
		}
		m.sync()
		cmd := m.input.Focus()
		return m, cmd
	}

	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

// sync pulls a fresh snapshot from the session. The input field follows the
// session draft only when the draft changed outside the keyboard, as when a
// transcript arrives or a submit clears it.
func (m *chatModel) sync() {
	m.state = m.session.Snapshot()
	if m.state.Draft != m.lastDraft {
		m.lastDraft = m.state.Draft
		m.input.SetValue(m.state.Draft)
		m.input.CursorEnd()
	}
	m.refreshViewport()
}

func (m *chatModel) setNotice(text string, warning bool) {
	m.notice = text
	m.warning = warning
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m chatModel) renderLog() string {
	var b strings.Builder
	if len(m.state.Messages) == 0 && !m.state.Loading {
		b.WriteString(m.styles.title.Render(m.catalog.WelcomeTitle))
		b.WriteString("\n")
		b.WriteString(m.styles.muted.Render(m.catalog.WelcomeBody))
		return b.String()
	}

	for _, msg := range m.state.Messages {
		switch msg.Role {
		case domain.RoleUser:
			b.WriteString(m.styles.user.Render(m.catalog.UserLabel))
			b.WriteString(m.styles.muted.Render(statusMark(msg.Status)))
		case domain.RoleAssistant:
			b.WriteString(m.styles.answer.Render(m.catalog.AssistantLabel))
		}
		b.WriteString("\n")
		b.WriteString(m.wrap(formatContent(msg.Content, m.styles.key)))
		b.WriteString("\n\n")
	}
	if m.state.Loading {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.styles.muted.Render(m.catalog.Thinking))
	}
	return b.String()
}

func (m chatModel) wrap(s string) string {
	if m.viewport.Width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(s)
}

func (m chatModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render(m.catalog.Title))
	b.WriteString("  ")
	b.WriteString(m.styles.subtitle.Render(m.catalog.Subtitle))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if img := m.state.Image; img != nil {
		b.WriteString(m.styles.notice.Render(fmt.Sprintf("📎 %s: %s", m.catalog.ImageAttached, img.Name)))
		if img.Preview != "" {
			b.WriteString(m.styles.muted.Render(" " + img.Preview))
		}
		b.WriteString("\n")
	}
	if m.state.Recording {
		b.WriteString(m.styles.warning.Render("● " + m.catalog.VoiceListening))
		if m.state.Transcript != "" {
			b.WriteString(" " + m.state.Transcript)
		}
		b.WriteString("\n")
	}
	if m.notice != "" {
		style := m.styles.notice
		if m.warning {
			style = m.styles.warning
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}

	if m.pickingImage {
		b.WriteString(m.pathInput.View())
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	b.WriteString(m.styles.muted.Render(tuiHelp))
	return b.String()
}
