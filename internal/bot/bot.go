// Package bot implements the chat command surface: it parses prefixed
// commands out of incoming messages, runs them against the calculator and
// the work-session service, and sends the reply through a [Replier].
//
// Commands look like "<prefix><name>><args>", for example "!!op>1+x*3,x=5"
// or "!!start>math". The package knows nothing about Discord; the gateway
// adapter converts events into [Message] values.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/tallybot/internal/config"
	"tools.zach/dev/tallybot/internal/worklog"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Message is an incoming chat message.
type Message struct {
	ID        string
	ChannelID string
	// ChannelName is matched against the channel filters; empty for DMs.
	ChannelName string
	// GuildID is empty for direct messages.
	GuildID       string
	AuthorID      string
	Username      string
	Discriminator string
	AuthorIsBot   bool
	Content       string
}

// IsDM reports whether the message was sent in a direct message channel.
func (m Message) IsDM() bool {
	return m.GuildID == ""
}

// Replier sends a reply to a message.
type Replier interface {
	Reply(ctx context.Context, to Message, content string) error
}

// handlerFunc runs one command and returns the reply text. A returned error
// is logged and answered with [FailureReply].
type handlerFunc func(ctx context.Context, m Message, args string) (string, error)

// FailureReply answers commands whose store calls failed.
const FailureReply = "Something went wrong talking to the session store, try again later 😵"

// ///////////////////////////////////////////////
// Bot
// ///////////////////////////////////////////////

// Bot routes commands to handlers. It is safe for concurrent use; each
// message is handled on the caller's goroutine.
type Bot struct {
	sessions *worklog.Service
	replier  Replier
	handlers map[string]command

	mu       sync.RWMutex
	commands config.CommandsConfig
	timeout  time.Duration

	// now is replaced in tests.
	now func() time.Time
}

type command struct {
	run   handlerFunc
	usage string
	help  string
}

// New creates a Bot using the command and store settings of cfg.
func New(sessions *worklog.Service, replier Replier, cfg *config.Config) *Bot {
	b := &Bot{
		sessions: sessions,
		replier:  replier,
		now:      time.Now,
	}
	b.handlers = b.registry()
	b.Apply(cfg)
	return b
}

// Apply swaps in the command surface settings of cfg. It is called on
// config reload; commands already running keep their old deadline.
func (b *Bot) Apply(cfg *config.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = cfg.Commands
	b.timeout = cfg.StoreTimeout()
}

func (b *Bot) settings() (config.CommandsConfig, time.Duration) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.commands, b.timeout
}

// Handle processes one message. Messages that are not commands, come from
// bots, or arrive in a filtered channel are ignored.
func (b *Bot) Handle(ctx context.Context, m Message) {
	reply, ok := b.Dispatch(ctx, m)
	if !ok {
		return
	}
	if err := b.replier.Reply(ctx, m, reply); err != nil {
		slog.Warn("failed to send reply", "channel_id", m.ChannelID, "message_id", m.ID, "error", err)
	}
}

// Dispatch runs the command in m and returns its reply. ok is false when
// the message should be ignored.
func (b *Bot) Dispatch(ctx context.Context, m Message) (reply string, ok bool) {
	if m.AuthorIsBot {
		return "", false
	}
	cmds, timeout := b.settings()

	name, args, found := Parse(cmds.Prefix, m.Content)
	if !found {
		return "", false
	}
	if m.IsDM() {
		if !cmds.AllowDirectMessages {
			return "", false
		}
	} else if !cmds.ChannelAllowed(m.ChannelName) {
		slog.Debug("command in filtered channel", "channel", m.ChannelName, "command", name)
		return "", false
	}

	cmd, known := b.handlers[name]
	if !known {
		return "Unknown command `" + name + "`. Try `" + cmds.Prefix + "help>`", true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reply, err := b.run(ctx, cmd, m, args)
	if err != nil {
		slog.Error("command failed", "command", name, "discord_id", m.AuthorID, "error", err)
		return FailureReply, true
	}
	slog.Debug("command handled", "command", name, "discord_id", m.AuthorID, "duration", time.Since(start))
	return reply, true
}

// run invokes cmd and turns a handler panic into an error so one bad
// message cannot take down the gateway goroutine.
func (b *Bot) run(ctx context.Context, cmd command, m Message, args string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panic", "error", r)
			err = errors.New("command panicked")
		}
	}()
	return cmd.run(ctx, m, args)
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// Parse splits "<prefix><name>><args>" into its name and arguments. The
// name is lower-cased; args are trimmed. found is false for anything that
// is not a command.
func Parse(prefix, content string) (name, args string, found bool) {
	content = strings.TrimSpace(content)
	rest, ok := strings.CutPrefix(content, prefix)
	if !ok || prefix == "" {
		return "", "", false
	}
	name, args, ok = strings.Cut(rest, ">")
	if !ok {
		return "", "", false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}
