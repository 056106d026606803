// Package discord connects the bot to the Discord gateway.
//
// The [Client] wraps a discordgo session: it turns MESSAGE_CREATE events
// into [bot.Message] values for a handler, sends replies, and keeps the
// bot's "playing" status line. REST calls go through a retrying HTTP client.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/tallybot/internal/bot"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNotConnected is returned when an operation requires an open gateway.
var ErrNotConnected = errors.New("not connected")

// Intents are the gateway intents the bot subscribes to. Message content is
// a privileged intent and must be enabled in the developer portal.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// MessageHandler receives every message the bot can see.
type MessageHandler func(ctx context.Context, m bot.Message)

// Options configures [NewClient].
type Options struct {
	// Token is the bot token, without the "Bot " prefix.
	Token string
	// Status is the "playing" line; empty leaves it unset.
	Status string
	// RESTRetryMax is the retry budget for REST calls.
	RESTRetryMax int
}

// messageSender is the part of *discordgo.Session used to reply.
type messageSender interface {
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client manages a gateway session.
type Client struct {
	session *discordgo.Session
	sender  messageSender
	// channel resolves a channel id; state cache first, then REST.
	channel func(id string) (*discordgo.Channel, error)

	// ctx is cancelled by Close so in-flight handlers stop early.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    string
	handler   MessageHandler
	open      bool
	connected atomic.Bool
}

// NewClient builds a gateway client. It does not connect; call
// [Client.Connect].
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("discord token is required")
	}
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RESTRetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 20 * time.Second
	rc.Logger = nil
	s.Client = rc.StandardClient()

	s.Identify.Intents = Intents
	s.StateEnabled = true
	s.ShouldReconnectOnError = true

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		session: s,
		sender:  s,
		ctx:     ctx,
		cancel:  cancel,
		status:  opts.Status,
	}
	c.channel = c.lookupChannel

	s.AddHandler(c.onReady)
	s.AddHandler(c.onConnect)
	s.AddHandler(c.onDisconnect)
	s.AddHandler(c.onMessageCreate)
	return c, nil
}

// OnMessage sets the handler for incoming messages.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect opens the gateway websocket and waits for the handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil
	}
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	c.open = true
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.connected.Store(false)
	return c.session.Close()
}

// Connected reports whether the gateway is currently connected. discordgo
// reconnects on its own; this reflects the latest connect/disconnect event.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SetStatus updates the "playing" line. It is remembered and re-applied
// after every reconnect.
func (c *Client) SetStatus(status string) error {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	if !c.Connected() {
		return nil
	}
	return c.session.UpdateGameStatus(0, status)
}

// Reply answers a message in its channel as a threaded reply.
func (c *Client) Reply(ctx context.Context, to bot.Message, content string) error {
	if content == "" {
		return nil
	}
	ref := &discordgo.MessageReference{
		MessageID: to.ID,
		ChannelID: to.ChannelID,
		GuildID:   to.GuildID,
	}
	if _, err := c.sender.ChannelMessageSendReply(to.ChannelID, content, ref, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Event Handlers
// ///////////////////////////////////////////////

func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds), "session_id", r.SessionID)

	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status == "" {
		return
	}
	if err := s.UpdateGameStatus(0, status); err != nil {
		slog.Warn("failed to set status", "error", err)
	}
}

func (c *Client) onConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	c.connected.Store(true)
	slog.Debug("discord gateway connected")
}

func (c *Client) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.connected.Store(false)
	slog.Warn("discord gateway disconnected")
}

func (c *Client) onMessageCreate(s *discordgo.Session, e *discordgo.MessageCreate) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil || e.Message == nil || e.Author == nil {
		return
	}
	if s.State != nil && s.State.User != nil && e.Author.ID == s.State.User.ID {
		return
	}
	h(c.ctx, c.toMessage(e.Message))
}

// ///////////////////////////////////////////////
// Conversion
// ///////////////////////////////////////////////

// toMessage converts a gateway message. Channel names are only resolved
// for guild messages; a failed lookup leaves the name empty, which the
// channel filters treat like any other unmatched name.
func (c *Client) toMessage(m *discordgo.Message) bot.Message {
	out := bot.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.Username = m.Author.Username
		out.Discriminator = m.Author.Discriminator
		out.AuthorIsBot = m.Author.Bot
	}
	if m.GuildID != "" {
		ch, err := c.channel(m.ChannelID)
		if err != nil {
			slog.Debug("channel lookup failed", "channel_id", m.ChannelID, "error", err)
		} else if ch != nil {
			out.ChannelName = ch.Name
		}
	}
	return out
}

func (c *Client) lookupChannel(id string) (*discordgo.Channel, error) {
	if c.session.State != nil {
		if ch, err := c.session.State.Channel(id); err == nil {
			return ch, nil
		}
	}
	return c.session.Channel(id, discordgo.WithContext(c.ctx))
}
