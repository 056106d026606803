package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	rootpkg "tools.zach/dev/tallybot"
	"tools.zach/dev/tallybot/internal/atomicfile"
	"tools.zach/dev/tallybot/internal/bot"
	"tools.zach/dev/tallybot/internal/config"
	"tools.zach/dev/tallybot/internal/discord"
	"tools.zach/dev/tallybot/internal/logger"
	"tools.zach/dev/tallybot/internal/store/memory"
	"tools.zach/dev/tallybot/internal/store/mongostore"
	"tools.zach/dev/tallybot/internal/update"
	"tools.zach/dev/tallybot/internal/watch"
	"tools.zach/dev/tallybot/internal/worklog"
)

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file, takes the advisory lock and
// writes "PID:TOKEN". The returned handle must stay open for the lifetime of
// the daemon; pass it to [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the lock, closes the handle, and removes the PID file
// only if it still carries token.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID reports whether another daemon holds the PID lock. A file
// left behind by a dead instance is removed.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
			return true, p
		}
		return true, 0
	}

	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Store Selection
// ///////////////////////////////////////////////

var errUnknownBackend = errors.New("unknown store backend")

// openStore builds the session store named by cfg.Store.Backend. The
// returned close function is never nil.
func openStore(ctx context.Context, cfg *config.Config, creds config.Credentials) (worklog.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		slog.Warn("using in-memory session store, sessions are lost on exit")
		return memory.New(), func() {}, nil

	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout())
		defer cancel()

		st, err := mongostore.Open(ctx, mongostore.Options{
			URI:        creds.MongoURI,
			Database:   creds.Database(cfg),
			Collection: cfg.Store.Collection,
			Timeout:    cfg.StoreTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.EnsureIndexes {
			if err := st.EnsureIndexes(ctx); err != nil {
				slog.Warn("failed to ensure indexes", "error", err)
			}
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(ctx); err != nil {
				slog.Warn("failed to disconnect from mongo", "error", err)
			}
		}
		return st, closeFn, nil
	}
	return nil, nil, fmt.Errorf("%w %q", errUnknownBackend, cfg.Store.Backend)
}

// ///////////////////////////////////////////////
// Connect with Retry
// ///////////////////////////////////////////////

// connector is the part of [discord.Client] used to open the gateway.
type connector interface {
	Connect() error
}

var _ connector = (*discord.Client)(nil)

// connectWithRetry calls Connect up to attempts times, sleeping interval
// between failures.
func connectWithRetry(client connector, attempts int, interval time.Duration) error {
	attempts = max(attempts, 1)
	var err error
	for i := range attempts {
		if err = client.Connect(); err == nil {
			return nil
		}
		slog.Warn("Discord connect attempt failed", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// statusSetter is the part of [discord.Client] touched on reload.
type statusSetter interface {
	SetStatus(status string) error
}

// daemon holds the state that config reloads mutate.
type daemon struct {
	paths  DataPaths
	cfg    *config.Config
	level  *slog.LevelVar
	bot    *bot.Bot
	status statusSetter
}

// reload re-reads config.toml and applies what can change at runtime: the
// command surface, the log level and the status line. Store and credential
// changes only take effect after a restart. A missing or invalid file keeps
// the running config.
func (d *daemon) reload() {
	if _, err := os.Stat(d.paths.Config()); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file missing, keeping current config", "path", d.paths.Config())
		return
	}
	cfg, err := config.Load(d.paths.Root)
	if err != nil {
		slog.Warn("config reload failed, keeping current config", "error", err)
		return
	}
	old := d.cfg
	d.cfg = cfg

	d.level.Set(logger.ParseLevel(cfg.Log.Level))
	d.bot.Apply(cfg)
	if cfg.Discord.Status != old.Discord.Status {
		if err := d.status.SetStatus(cfg.Discord.Status); err != nil {
			slog.Warn("failed to update status", "error", err)
		}
	}
	if cfg.Store != old.Store {
		slog.Warn("store settings changed, restart to apply")
	}
	slog.Info("config reloaded", "prefix", cfg.Commands.Prefix, "log_level", cfg.Log.Level)
}

// loop blocks until a shutdown signal, reloading config on every change.
func (d *daemon) loop(sigCh <-chan os.Signal, changes <-chan struct{}) {
	for {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			return
		case <-changes:
			d.reload()
		}
	}
}

// runDaemon is the `tallybot run` entry point.
func runDaemon(dp DataPaths) error {
	if err := os.MkdirAll(dp.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if alive, pid := checkStalePID(dp); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if _, err := atomicfile.WriteIfMissing(dp.Config(), rootpkg.DefaultConfigTOML, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser := logger.New(logger.Options{
		Path:      dp.Log(),
		Level:     level,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Console:   cfg.Log.Console,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("tallybot starting", "version", ver, "data_dir", dp.Root)

	creds, err := config.LoadCredentials(dp.Env())
	if err != nil {
		return err
	}
	if err := creds.Check(cfg.Store.Backend); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		return err
	}
	defer removePID(dp, token, pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Update.Check {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("update check panic", "error", r)
				}
			}()
			update.NewChecker().Check(ctx, cfg.Update.ManifestURL, ver)
		}()
	}

	store, closeStore, err := openStore(ctx, cfg, creds)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer closeStore()

	client, err := discord.NewClient(discord.Options{
		Token:        creds.DiscordToken,
		Status:       cfg.Discord.Status,
		RESTRetryMax: cfg.Discord.RESTRetryMax,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	b := bot.New(worklog.NewService(store), client, cfg)
	client.OnMessage(b.Handle)

	if err := connectWithRetry(client, cfg.Discord.ConnectAttempts, cfg.ReconnectInterval()); err != nil {
		return err
	}
	slog.Info("connected to Discord", "prefix", cfg.Commands.Prefix, "store", cfg.Store.Backend)

	d := &daemon{paths: dp, cfg: cfg, level: level, bot: b, status: client}

	var changes <-chan struct{}
	watcher, err := watch.New(dp.Config())
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Close()
		if watcher.Polling() {
			slog.Info("using polling mode for config watching")
		}
		changes = watcher.Events()
	}

	d.loop(signalChannel(), changes)
	return nil
}
