package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tiaapa/internal/domain"
	"tiaapa/internal/locale"
	"tiaapa/internal/media"
	"tiaapa/internal/session"
)

// CLI implements domain.Channel as a line-oriented terminal chat.
type CLI struct {
	session   *session.Controller
	bus       domain.EventBus
	catalog   *locale.Catalog
	openImage func(path string) (domain.Image, error)
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer

	outMu     sync.Mutex
	label     lipgloss.Style
	key       lipgloss.Style
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Session   *session.Controller
	Bus       domain.EventBus
	Catalog   *locale.Catalog
	// OpenImage loads a picked image file. Defaults to media.OpenImage.
	OpenImage func(path string) (domain.Image, error)
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.OpenImage == nil {
		cfg.OpenImage = media.OpenImage
	}
	r := lipgloss.NewRenderer(cfg.Out)
	return &CLI{
		session:   cfg.Session,
		bus:       cfg.Bus,
		catalog:   cfg.Catalog,
		openImage: cfg.OpenImage,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
		label:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E7D32")),
		key:       r.NewStyle().Bold(true),
	}
}

func (c *CLI) Name() string { return "cli" }

const cliHelp = `Commands:
  /voice          start or stop voice input
  /image <path>   attach an image for analysis
  /clear-image    remove the attached image
  /reset          start a new chat
  /quit           exit
Press Enter on an empty line to send the current draft.`

// Start runs the interactive REPL and blocks until the input ends, the user
// quits or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	if c.bus != nil {
		c.bus.Subscribe(c.Name(), c.onEvent)
		defer c.bus.Unsubscribe(c.Name())
	}
	defer c.stopThinking()

	c.printf("%s · %s\n", c.catalog.Title, c.catalog.Subtitle)
	c.printf("%s\n%s\n\n", c.catalog.WelcomeTitle, c.catalog.WelcomeBody)
	c.printf("Type /help for commands.\n")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if quit := c.handleLine(ctx, line); quit {
			c.logger.Info("user requested quit")
			return nil
		}
		c.prompt()
	}
}

// handleLine runs one line of input. It reports whether the user asked to quit.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		c.printf("%s\n", cliHelp)
	case "/voice":
		c.toggleVoice(ctx)
	case "/image":
		c.attachImage(arg)
	case "/clear-image":
		c.session.ClearImage()
		c.printf("%s\n", c.catalog.ImageRemoved)
	case "/reset":
		c.session.Reset()
		c.printf("%s\n", c.catalog.ChatReset)
	default:
		if line != "" {
			c.session.SetDraft(line)
		}
		c.submit(ctx)
	}
	return false
}

func (c *CLI) submit(ctx context.Context) {
	s := c.session.Snapshot()
	if strings.TrimSpace(s.Draft) == "" && s.Image == nil {
		return
	}
	c.startThinking()
	err := c.session.Submit(ctx)
	c.stopThinking()
	if errors.Is(err, session.ErrBusy) {
		c.printf("%s\n", c.catalog.Thinking)
	}
}

func (c *CLI) toggleVoice(ctx context.Context) {
	wasRecording := c.session.Snapshot().Recording
	err := c.session.ToggleVoice(ctx)
	switch {
	case errors.Is(err, session.ErrSpeechUnsupported):
		// the warning event already told the user
	case err != nil:
		c.printf("voice: %v\n", err)
	case wasRecording:
		c.printf("%s\n", c.catalog.VoiceStopped)
		if draft := c.session.Snapshot().Draft; draft != "" {
			c.printf("» %s\n", draft)
		}
	default:
		c.printf("%s\n", c.catalog.VoiceListening)
	}
}

func (c *CLI) attachImage(path string) {
	if path == "" {
		c.printf("usage: /image <path>\n")
		return
	}
	img, err := c.openImage(path)
	if err != nil {
		c.logger.Warn("image pick failed", "path", path, "err", err)
		c.printf("image: %v\n", err)
		return
	}
	c.session.StageImage(img)
	c.printf("%s: %s\n", c.catalog.ImageAttached, img.Name)
}

func (c *CLI) onEvent(ev domain.Event) {
	switch ev.Type {
	case domain.EventMessageAppended:
		if ev.Message == nil || ev.Message.Role != domain.RoleAssistant {
			return
		}
		c.stopThinking()
		c.printf("\r\033[K")
		c.printf("%s\n%s\n\n", c.label.Render(c.catalog.AssistantLabel), formatContent(ev.Message.Content, c.key))
	case domain.EventWarning:
		c.printf("! %s\n", ev.Warning)
	}
}

func (c *CLI) prompt() {
	s := c.session.Snapshot()
	marker := ""
	if s.Image != nil {
		marker = "[" + s.Image.Name + "] "
	}
	if s.Recording {
		marker += "[mic] "
	}
	c.printf("%s%s> ", marker, c.catalog.UserLabel)
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s %s", frames[i%len(frames)], c.catalog.Thinking)
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

// stopThinking stops the spinner and waits for it to exit so that nothing is
// drawn after the caller's next line.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	if !c.thinking {
		c.thinkMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.thinkMu.Unlock()
	<-done
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
