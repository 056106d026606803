// Package integration drives the bot end to end: a config file on disk, the
// command router, the session service and the in-memory store, with a
// recording replier in place of the Discord gateway.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tools.zach/dev/tallybot/internal/atomicfile"
	"tools.zach/dev/tallybot/internal/bot"
	"tools.zach/dev/tallybot/internal/calc"
	"tools.zach/dev/tallybot/internal/config"
	"tools.zach/dev/tallybot/internal/paths"
	"tools.zach/dev/tallybot/internal/store/memory"
	"tools.zach/dev/tallybot/internal/watch"
	"tools.zach/dev/tallybot/internal/worklog"
)

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

type reply struct {
	to      bot.Message
	content string
}

// recorder collects replies instead of sending them.
type recorder struct {
	mu      sync.Mutex
	replies []reply
}

func (r *recorder) Reply(_ context.Context, to bot.Message, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{to: to, content: content})
	return nil
}

// last returns the most recent reply and clears the log.
func (r *recorder) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		t.Fatal("no reply recorded")
	}
	out := r.replies[len(r.replies)-1].content
	r.replies = nil
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

// writeConfig writes config.toml into dir the way an editor would replace it.
func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := atomicfile.Write(filepath.Join(dir, paths.ConfigFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func guildMessage(id, author, channel, content string) bot.Message {
	return bot.Message{
		ID:            id,
		ChannelID:     "c-" + channel,
		ChannelName:   channel,
		GuildID:       "g1",
		AuthorID:      author,
		Username:      "user-" + author,
		Discriminator: "0",
		Content:       content,
	}
}

// ///////////////////////////////////////////////
// Tests
// ///////////////////////////////////////////////

func TestConversation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version = 2

[commands]
prefix = "!!"
allowed_channels = ["study-*"]
ignored_channels = ["study-archive"]

[store]
backend = "memory"
`)
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	store := memory.New()
	rec := &recorder{}
	b := bot.New(worklog.NewService(store), rec, cfg)
	ctx := context.Background()

	b.Handle(ctx, guildMessage("1", "ada", "study-math", "!!op>1+x*3,x=5"))
	if got, want := rec.last(t), calc.Reply("1+x*3,x=5"); got != want {
		t.Errorf("op reply = %q, want %q", got, want)
	}

	b.Handle(ctx, guildMessage("2", "ada", "general", "!!op>1+1"))
	b.Handle(ctx, guildMessage("3", "ada", "study-archive", "!!op>1+1"))
	if n := rec.count(); n != 0 {
		t.Errorf("filtered channels produced %d replies", n)
	}

	b.Handle(ctx, guildMessage("4", "ada", "study-math", "!!start>calculus"))
	if got := rec.last(t); !strings.Contains(got, "calculus") {
		t.Errorf("start reply = %q", got)
	}
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}

	b.Handle(ctx, guildMessage("5", "ada", "study-math", "!!stop>"))
	if got := rec.last(t); !strings.Contains(got, "finished") {
		t.Errorf("stop reply = %q", got)
	}

	b.Handle(ctx, guildMessage("6", "ada", "study-math", "!!subjects>"))
	if got := rec.last(t); got != "Your subjects: calculus" {
		t.Errorf("subjects reply = %q", got)
	}

	// Another user cannot see or delete ada's session.
	sessions, err := store.ListByUser(ctx, "ada")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListByUser = %v, %v", sessions, err)
	}
	b.Handle(ctx, guildMessage("7", "bob", "study-math", "!!remove>"+sessions[0].ID))
	if got := rec.last(t); !strings.Contains(got, "not yours") {
		t.Errorf("foreign remove reply = %q", got)
	}
	b.Handle(ctx, guildMessage("8", "ada", "study-math", "!!remove>"+sessions[0].ID))
	if got := rec.last(t); !strings.Contains(got, "removed") {
		t.Errorf("remove reply = %q", got)
	}
	if store.Len() != 0 {
		t.Errorf("stored sessions after remove = %d, want 0", store.Len())
	}
}

func TestConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n\n[store]\nbackend = \"memory\"\n")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec := &recorder{}
	b := bot.New(worklog.NewService(memory.New()), rec, cfg)

	w, err := watch.New(filepath.Join(dir, paths.ConfigFile))
	if err != nil {
		t.Fatalf("watch.New: %v", err)
	}
	defer w.Close()

	writeConfig(t, dir, "version = 2\n\n[commands]\nprefix = \"$\"\n\n[store]\nbackend = \"memory\"\n")

	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no change event after rewriting config.toml")
	}
	next, err := config.Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	b.Apply(next)

	ctx := context.Background()
	b.Handle(ctx, guildMessage("1", "ada", "general", "!!op>2"))
	if n := rec.count(); n != 0 {
		t.Errorf("old prefix still answered (%d replies)", n)
	}
	b.Handle(ctx, guildMessage("2", "ada", "general", "$op>2^10"))
	if got, want := rec.last(t), calc.Reply("2^10"); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestLegacyConfigMigratesOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, paths.ConfigFile)
	writeConfig(t, dir, "prefix = \"%%\"\n\n[store]\nbackend = \"memory\"\n")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Commands.Prefix != "%%" {
		t.Errorf("prefix = %q, want %%%%", cfg.Commands.Prefix)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not written: %v", err)
	}

	rec := &recorder{}
	b := bot.New(worklog.NewService(memory.New()), rec, cfg)
	b.Handle(context.Background(), bot.Message{ID: "1", AuthorID: "ada", Content: "%%help>"})
	if got := rec.last(t); !strings.HasPrefix(got, "Commands:") {
		t.Errorf("help reply = %q", got)
	}
}
