package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/config"
	"github.com/longkey1/llmrelay/internal/consumer"
	"github.com/longkey1/llmrelay/internal/logger"
	"github.com/longkey1/llmrelay/internal/prefs"
)

var model string

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with an LLM through the relay",
	Long: `Chat with an LLM through the relay and print the reply as it streams.

With a message argument, one turn is sent and the command exits.
Without arguments an interactive session starts. Commands:
  /model [label]  show or switch the model (remembered between runs)
  /models         list the available models
  /clear          start a new conversation
  /exit           quit (also Ctrl+D)

Ctrl+C cancels the reply being streamed.

The relay URL is dev_relay_url or prod_relay_url depending on env.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		relayURL, err := cfg.RelayURL()
		if err != nil {
			return err
		}

		var store prefs.Store = &prefs.MemStore{}
		if cfg.PrefsFile != "" {
			store = prefs.NewFileStore(cfg.PrefsFile)
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		c := consumer.New(consumer.NewHTTPTransport(relayURL, nil), logger.NewConsole(os.Stderr, level))
		defer c.Close()

		s, err := newChatSession(c, store, cfg.Model, os.Stdout)
		if err != nil {
			return err
		}
		if verbose {
			s.describe(os.Stderr, relayURL)
		}

		if len(args) > 0 {
			return s.send(cmd.Context(), strings.Join(args, " "))
		}
		return s.interactive(cmd.Context())
	},
}

// chatSession drives a consumer from the terminal.
type chatSession struct {
	c     *consumer.Consumer
	store prefs.Store
	model chat.ModelInfo
	out   io.Writer
}

// newChatSession picks the model from --model, the saved preferences or the
// configured default, in that order.
func newChatSession(c *consumer.Consumer, store prefs.Store, fallback string, out io.Writer) (*chatSession, error) {
	p, err := store.Load()
	if err != nil {
		return nil, err
	}

	label := fallback
	if p.Model != "" {
		label = p.Model
	}
	if model != "" {
		label = model
	}
	m, err := chat.ResolveModel(label)
	if err != nil {
		return nil, err
	}

	pr := &replyPrinter{out: out}
	c.Subscribe(pr.print)
	return &chatSession{c: c, store: store, model: m, out: out}, nil
}

// describe writes the session settings shown in verbose mode.
func (s *chatSession) describe(w io.Writer, relayURL string) {
	fmt.Fprintf(w, "Relay: %s\n", relayURL)
	fmt.Fprintf(w, "Model: %s\n", chat.FormatModelString(s.model.Provider, s.model.Label))
	fmt.Fprintf(w, "Conversation: %s\n", chat.ShortID(s.c.Snapshot().ConversationID))
	if fs, ok := s.store.(*prefs.FileStore); ok {
		fmt.Fprintf(w, "Prefs: %s\n", fs.Path())
	}
}

// send submits one turn and blocks until its reply has ended. An interrupt
// cancels the reply and keeps the part received so far.
func (s *chatSession) send(ctx context.Context, input string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := s.c.Submit(ctx, input, s.model); err != nil {
		return err
	}
	s.c.Wait()

	if msg := s.c.Snapshot().Err; msg != "" {
		return errors.New(msg)
	}
	return nil
}

func (s *chatSession) interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You> ",
		HistoryFile:     filepath.Join(userConfigDir(), "history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(s.out, "Model: %s. Type /exit or Ctrl+D to quit.\n", s.model.Label)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if !s.command(input) {
				return nil
			}
			continue
		}

		// the reply is printed by the subscriber; a failed turn is reported and the session goes on
		if err := s.send(ctx, input); err != nil && !errors.Is(err, consumer.ErrEmptyInput) {
			fmt.Fprintln(s.out, "Error:", err)
		}
	}
}

// command runs a slash command and reports whether the session continues.
func (s *chatSession) command(input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return false
	case "/clear":
		if err := s.c.Clear(); err != nil {
			fmt.Fprintln(s.out, "Error:", err)
			break
		}
		fmt.Fprintf(s.out, "Started a new conversation (%s).\n", chat.ShortID(s.c.Snapshot().ConversationID))
	case "/models":
		for _, m := range chat.Models {
			marker := " "
			if m.Label == s.model.Label {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %-15s %-15s %s\n", marker, m.Label, m.Name, m.Provider)
		}
	case "/model":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "Model:", s.model.Label)
			break
		}
		m, err := chat.ResolveModel(fields[1])
		if err != nil {
			fmt.Fprintln(s.out, "Error:", err)
			break
		}
		s.model = m
		if err := s.saveModel(m.Label); err != nil {
			fmt.Fprintln(s.out, "Warning: failed to save model:", err)
		}
		fmt.Fprintln(s.out, "Model:", m.Label)
	default:
		fmt.Fprintln(s.out, "Commands: /model [label], /models, /clear, /exit")
	}
	return true
}

func (s *chatSession) saveModel(label string) error {
	p, err := s.store.Load()
	if err != nil {
		return err
	}
	p.Model = label
	return s.store.Save(p)
}

// replyPrinter writes the part of the assistant reply not printed yet.
type replyPrinter struct {
	out     io.Writer
	turns   int
	printed int
	open    bool // a reply line has been started and not ended
}

func (p *replyPrinter) print(s consumer.Snapshot) {
	if len(s.Turns) != p.turns {
		p.end()
		p.turns = len(s.Turns)
		p.printed = 0
	}
	if p.turns == 0 {
		return
	}

	reply := s.Current().Assistant
	if len(reply) > p.printed {
		io.WriteString(p.out, reply[p.printed:])
		p.printed = len(reply)
		p.open = true
	}

	if s.State == consumer.Idle {
		p.end()
	}
}

func (p *replyPrinter) end() {
	if p.open {
		io.WriteString(p.out, "\n")
		p.open = false
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&model, "model", "m", "", "model label (e.g. gptTurbo) or provider:model")
}
