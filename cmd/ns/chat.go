package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/novelsync/internal/app"
	"github.com/zulandar/novelsync/internal/chat"
	"github.com/zulandar/novelsync/internal/inspect"
	"github.com/zulandar/novelsync/internal/models"
	"golang.org/x/term"
)

type chatOpts struct {
	Character string
	Inspect   string
	VoiceOut  string
}

func newChatCmd(configPath *string) *cobra.Command {
	var opts chatOpts

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a character",
		Long: `Opens the active session of a character and reads messages from stdin.
Lines starting with / are commands: /stop /regen /continue /retry /new
/history /voice on|off /remember /memories /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appOpts := app.Opts{}
			if opts.VoiceOut != "" {
				f, err := os.Create(opts.VoiceOut)
				if err != nil {
					return fmt.Errorf("open voice output: %w", err)
				}
				defer f.Close()
				appOpts.Player = chat.WriterPlayer{W: f}
			}
			a, err := openApp(*configPath, appOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a, opts, interactive)
		},
	}

	cmd.Flags().StringVar(&opts.Character, "character", "", "character to chat with (defaults to the active one)")
	cmd.Flags().StringVar(&opts.Inspect, "inspect", "", "serve the inspector on this address")
	cmd.Flags().StringVar(&opts.VoiceOut, "voice-out", "", "write spoken replies to this file")
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, a *app.App, opts chatOpts, interactive bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if _, err := a.Library.Bootstrap(ctx); err != nil {
		return err
	}
	character := opts.Character
	if character == "" {
		character = a.Library.ActiveCharacter()
	} else if err := a.Library.SetActiveCharacter(ctx, character); err != nil {
		log.Printf("chat: remember character: %v", err)
	}
	if err := a.Sessions.LoadSessionsForCharacter(ctx, character); err != nil {
		return err
	}

	if opts.Inspect != "" {
		iopts := a.InspectOpts(opts.Inspect)
		iopts.Out = out
		go func() {
			if err := inspect.Start(ctx, iopts); err != nil {
				log.Printf("chat: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "Chatting with %s", character)
	if sid := a.Sessions.ActiveID(); sid != "" {
		fmt.Fprintf(out, " (session %s)", sid)
	}
	fmt.Fprintln(out)
	printHistory(out, a.Sessions.Messages())

	sc := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c := parseCommand(line)
		if c.name == cmdQuit {
			return nil
		}
		if err := runCommand(ctx, out, a, character, c); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// Chat commands.
const (
	cmdSend     = ""
	cmdQuit     = "quit"
	cmdStop     = "stop"
	cmdRegen    = "regen"
	cmdContinue = "continue"
	cmdRetry    = "retry"
	cmdNew      = "new"
	cmdHistory  = "history"
	cmdVoice    = "voice"
	cmdRemember = "remember"
	cmdMemories = "memories"
)

type command struct {
	name string
	arg  string
}

// parseCommand splits "/name arg". Anything else is a message; a leading
// "//" sends a literal slash.
func parseCommand(line string) command {
	if strings.HasPrefix(line, "//") {
		return command{name: cmdSend, arg: line[1:]}
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: cmdSend, arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

func runCommand(ctx context.Context, out io.Writer, a *app.App, character string, c command) error {
	e := a.Chat
	switch c.name {
	case cmdSend:
		if err := e.Send(c.arg); err != nil {
			return err
		}
		return awaitReply(ctx, out, a)
	case cmdStop:
		return e.Stop()
	case cmdRegen, cmdContinue:
		m, ok := lastOf(a.Sessions.Messages(), func(m models.ChatMessage) bool { return m.Role == models.RoleModel })
		if !ok {
			return errors.New("no reply to act on")
		}
		action := chat.ActionRegenerate
		if c.name == cmdContinue {
			action = chat.ActionContinue
		}
		if err := e.PerformMessageAction(m.ID, action); err != nil {
			return err
		}
		return awaitReply(ctx, out, a)
	case cmdRetry:
		m, ok := lastOf(a.Sessions.Messages(), func(m models.ChatMessage) bool { return m.IsError })
		if !ok {
			return errors.New("no failed reply to retry")
		}
		if err := e.Retry(m.ID); err != nil {
			return err
		}
		return awaitReply(ctx, out, a)
	case cmdNew:
		s, err := a.Sessions.CreateSession(ctx, character)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Started session %s\n", s.ID)
	case cmdHistory:
		printHistory(out, a.Sessions.Messages())
	case cmdVoice:
		on := c.arg != "off"
		e.SetVoiceMode(on)
		if err := a.Settings.SetVoiceMode(on); err != nil {
			return err
		}
		fmt.Fprintf(out, "Voice mode %s\n", onOff(on))
	case cmdRemember:
		n, err := a.RememberSuggestions(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(out, "No memory suggestions")
			return nil
		}
		fmt.Fprintf(out, "Remembered %d suggestion(s)\n", n)
	case cmdMemories:
		d, err := a.Memory.Get(ctx, character)
		if err != nil {
			return err
		}
		if len(d.Entries) == 0 {
			fmt.Fprintln(out, "No memories")
		}
		for _, m := range d.Entries {
			fmt.Fprintf(out, "- %s\n", m)
		}
	default:
		return fmt.Errorf("unknown command /%s", c.name)
	}
	return nil
}

// awaitReply blocks until the engine is idle or errored, then prints the
// newest message.
func awaitReply(ctx context.Context, out io.Writer, a *app.App) error {
	changed := make(chan struct{}, 1)
	off := a.Chat.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer off()

	for {
		switch a.Chat.Status() {
		case chat.StatusIdle, chat.StatusError:
			if msgs := a.Sessions.Messages(); len(msgs) > 0 {
				printMessage(out, msgs[len(msgs)-1])
			}
			if sug := a.Chat.MemorySuggestions(); len(sug) > 0 {
				fmt.Fprintf(out, "Memory suggestions: %s (/remember to keep)\n", strings.Join(sug, "; "))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func lastOf(msgs []models.ChatMessage, match func(models.ChatMessage) bool) (models.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if match(msgs[i]) {
			return msgs[i], true
		}
	}
	return models.ChatMessage{}, false
}

func printHistory(out io.Writer, msgs []models.ChatMessage) {
	for _, m := range msgs {
		printMessage(out, m)
	}
}

func printMessage(out io.Writer, m models.ChatMessage) {
	fmt.Fprintln(out, formatMessage(m))
}

// formatMessage renders one history entry as a transcript line.
func formatMessage(m models.ChatMessage) string {
	who := "you"
	if m.Role == models.RoleModel {
		who = "ai"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", who, m.VisibleContent())
	if n := len(m.Alternatives); n > 0 {
		fmt.Fprintf(&b, " (%d/%d)", m.ActiveIndex()+2, n+1)
	}
	if m.IsError && m.ErrorContent != "" {
		fmt.Fprintf(&b, "\n  ! %s", m.ErrorContent)
	}
	if t := m.ImageTask; t != nil {
		switch t.Status {
		case models.ImageSuccess:
			fmt.Fprintf(&b, "\n  image: %s", t.ImageURL)
		default:
			fmt.Fprintf(&b, "\n  image: %s", t.Status)
		}
	}
	return b.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
