// Package bot is the chat command interface: it long-polls updates from the
// configured chat and maps text commands onto the relay operations.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/debridrelay/debridrelay/internal/cache"
	"github.com/debridrelay/debridrelay/internal/clock"
	"github.com/debridrelay/debridrelay/internal/debrid"
	"github.com/debridrelay/debridrelay/internal/history"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/pipeline"
	"github.com/debridrelay/debridrelay/internal/telegram"
)

const (
	StartupMessage = "🟢 RD Bot Active — Type /downloads to view completed files"

	pollTimeout    = 30 * time.Second
	errorBackoff   = 3 * time.Second
	commandTimeout = 60 * time.Second
	mediaInfoTTL   = time.Hour
)

// Chat is the subset of the Bot API client the router uses.
type Chat interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	SendMessage(ctx context.Context, chatID int64, text string) (*telegram.Message, error)
}

// Remote is the subset of the debrid client behind the read-only commands.
type Remote interface {
	Info(ctx context.Context, jobID string) (*debrid.Job, error)
	ListTorrents(ctx context.Context, statuses ...string) ([]debrid.Job, error)
	ListDownloads(ctx context.Context) ([]debrid.Download, error)
	MediaInfo(ctx context.Context, downloadID string) (*debrid.MediaInfo, error)
	Delete(ctx context.Context, jobID string) (bool, error)
}

// Tasks accepts work for the pipeline.
type Tasks interface {
	Submit(ctx context.Context, t *pipeline.Task) error
}

// History lists past relays.
type History interface {
	Recent(ctx context.Context, chatID int64, limit int) ([]history.Entry, error)
}

// FeedTokens issues websocket feed tokens.
type FeedTokens interface {
	Issue(chatID int64) (string, time.Time, error)
}

type Config struct {
	ChatID   int64
	PageSize int
	Clock    clock.Clock
}

type Bot struct {
	chat    Chat
	remote  Remote
	tasks   Tasks
	history History
	tokens  FeedTokens
	cache   *cache.Cache
	cfg     Config
	log     *logger.Logger

	commands map[string]command
}

type command func(ctx context.Context, arg string) string

// Option configures optional collaborators.
type Option func(*Bot)

func WithHistory(h History) Option       { return func(b *Bot) { b.history = h } }
func WithFeedTokens(t FeedTokens) Option { return func(b *Bot) { b.tokens = t } }
func WithCache(c *cache.Cache) Option    { return func(b *Bot) { b.cache = c } }

func New(chat Chat, remote Remote, tasks Tasks, cfg Config, opts ...Option) *Bot {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	b := &Bot{
		chat:   chat,
		remote: remote,
		tasks:  tasks,
		cfg:    cfg,
		log:    logger.Default().WithComponent("bot"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.commands = map[string]command{
		"start":     b.help,
		"help":      b.help,
		"magnet":    b.magnet,
		"relay":     b.relay,
		"downloads": b.downloads,
		"info":      b.info,
		"delete":    b.delete,
		"history":   b.recent,
		"feedtoken": b.feedToken,
	}
	return b
}

// Announce posts the startup message.
func (b *Bot) Announce(ctx context.Context) {
	if _, err := b.chat.SendMessage(ctx, b.cfg.ChatID, StartupMessage); err != nil {
		b.log.Warn(ctx, "startup message failed", map[string]interface{}{"error": err.Error()})
	}
}

// Run long-polls updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	var offset int64
	for ctx.Err() == nil {
		updates, next, err := b.chat.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn(ctx, "getUpdates failed", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-b.cfg.Clock.After(errorBackoff):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			b.Handle(ctx, u)
		}
	}
}

// Handle dispatches one update. Messages from other chats are ignored.
func (b *Bot) Handle(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}
	if msg.Chat.ID != b.cfg.ChatID {
		b.log.Debug(ctx, "ignoring message from unknown chat", map[string]interface{}{"chat_id": msg.Chat.ID})
		return
	}

	name, arg, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, found := b.commands[name]
	if !found {
		b.reply(ctx, "Unknown command. Send /start for the list.")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	b.log.Info(cctx, "command", map[string]interface{}{"command": name})
	for _, part := range split(cmd(cctx, arg), telegram.MaxMessageLength) {
		b.reply(ctx, part)
	}
}

func (b *Bot) reply(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := b.chat.SendMessage(ctx, b.cfg.ChatID, text); err != nil {
		b.log.Warn(ctx, "reply failed", map[string]interface{}{"error": err.Error()})
	}
}

// parseCommand splits "/name@bot arg" into name and arg.
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, arg, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(arg), name != ""
}

// split breaks text into pieces of at most limit runes on line boundaries.
func split(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		n := len([]rune(line))
		if curLen+n > limit && curLen > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(line)
		curLen += n
	}
	if curLen > 0 {
		parts = append(parts, strings.TrimRight(cur.String(), "\n"))
	}
	return parts
}
