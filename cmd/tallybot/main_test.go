package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tools.zach/dev/tallybot/internal/bot"
	"tools.zach/dev/tallybot/internal/calc"
	"tools.zach/dev/tallybot/internal/config"
	"tools.zach/dev/tallybot/internal/paths"
	"tools.zach/dev/tallybot/internal/store/memory"
	"tools.zach/dev/tallybot/internal/worklog"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type fakeConnector struct {
	failures int
	calls    int
}

func (f *fakeConnector) Connect() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("gateway unavailable")
	}
	return nil
}

type fakeStatus struct {
	statuses []string
}

func (f *fakeStatus) SetStatus(s string) error {
	f.statuses = append(f.statuses, s)
	return nil
}

type nopReplier struct{}

func (nopReplier) Reply(context.Context, bot.Message, string) error { return nil }

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	// "dev" without VCS info, otherwise "dev+<hash>" or "dev+<hash>.dirty".
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if !strings.HasSuffix(dir, paths.DataDirRel) {
		t.Errorf("defaultDataDir() = %q, want path ending in %q", dir, paths.DataDirRel)
	}
}

// ///////////////////////////////////////////////
// PID Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if want := fmt.Sprintf("%d:%s", os.Getpid(), token); string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), want)
	}
}

func TestRemovePID(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantExists bool
	}{
		{"matching token removes", "", false},
		{"mismatched token keeps", "wrong-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			token := pidToken()
			f, err := writePID(dp, token)
			if err != nil {
				t.Fatalf("writePID() error: %v", err)
			}

			remove := tt.token
			if remove == "" {
				remove = token
			}
			removePID(dp, remove, f)

			_, statErr := os.Stat(dp.PID())
			if exists := statErr == nil; exists != tt.wantExists {
				t.Errorf("PID file exists = %v, want %v", exists, tt.wantExists)
			}
		})
	}
}

func TestRemovePID_NilFile(t *testing.T) {
	removePID(DataPaths{Root: t.TempDir()}, "any-token", nil)
}

func TestCheckStalePID_NoFile(t *testing.T) {
	alive, pid := checkStalePID(DataPaths{Root: t.TempDir()})
	if alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0)", alive, pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	alive, pid := checkStalePID(dp)
	if alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0) for stale file", alive, pid)
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

// ///////////////////////////////////////////////
// connectWithRetry Tests
// ///////////////////////////////////////////////

func TestConnectWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, 3, false, 1},
		{"succeeds after failures", 2, 3, false, 3},
		{"gives up", 5, 3, true, 3},
		{"zero attempts still tries once", 1, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConnector{failures: tt.failures}
			err := connectWithRetry(fc, tt.attempts, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("connectWithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if fc.calls != tt.wantCalls {
				t.Errorf("Connect calls = %d, want %d", fc.calls, tt.wantCalls)
			}
		})
	}
}

// ///////////////////////////////////////////////
// openStore Tests
// ///////////////////////////////////////////////

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "memory"
		st, closeFn, err := openStore(ctx, cfg, config.Credentials{})
		if err != nil {
			t.Fatalf("openStore() error: %v", err)
		}
		defer closeFn()
		if _, ok := st.(*memory.Store); !ok {
			t.Errorf("store = %T, want *memory.Store", st)
		}
	})

	t.Run("mongo without URI", func(t *testing.T) {
		cfg := config.DefaultConfig()
		if _, _, err := openStore(ctx, cfg, config.Credentials{}); err == nil {
			t.Error("expected error without a connection URI")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "sqlite"
		if _, _, err := openStore(ctx, cfg, config.Credentials{}); !errors.Is(err, errUnknownBackend) {
			t.Errorf("openStore() error = %v, want errUnknownBackend", err)
		}
	})
}

// ///////////////////////////////////////////////
// Reload Tests
// ///////////////////////////////////////////////

func newTestDaemon(t *testing.T) (*daemon, *fakeStatus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"
	level := new(slog.LevelVar)
	fs := &fakeStatus{}
	return &daemon{
		paths:  DataPaths{Root: t.TempDir()},
		cfg:    cfg,
		level:  level,
		bot:    bot.New(worklog.NewService(memory.New()), nopReplier{}, cfg),
		status: fs,
	}, fs
}

func TestDaemonReload(t *testing.T) {
	d, fs := newTestDaemon(t)

	toml := `version = 2

[discord]
status = "??help>"

[commands]
prefix = "??"

[store]
backend = "memory"

[log]
level = "debug"
`
	if err := os.WriteFile(d.paths.Config(), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	d.reload()

	if d.cfg.Commands.Prefix != "??" {
		t.Errorf("prefix = %q, want ??", d.cfg.Commands.Prefix)
	}
	if d.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", d.level.Level())
	}
	if len(fs.statuses) != 1 || fs.statuses[0] != "??help>" {
		t.Errorf("statuses = %v, want [??help>]", fs.statuses)
	}

	reply, ok := d.bot.Dispatch(context.Background(), bot.Message{ID: "1", AuthorID: "42", Content: "??op>2*3"})
	if !ok || reply != calc.Reply("2*3") {
		t.Errorf("Dispatch with new prefix = (%q, %v)", reply, ok)
	}
	if _, ok := d.bot.Dispatch(context.Background(), bot.Message{ID: "2", AuthorID: "42", Content: "!!op>2*3"}); ok {
		t.Error("old prefix should be ignored after reload")
	}
}

func TestDaemonReload_InvalidKeepsConfig(t *testing.T) {
	d, fs := newTestDaemon(t)
	before := d.cfg

	if err := os.WriteFile(d.paths.Config(), []byte("version = 2\n[commands]\nprefix = \"a b\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d.reload()

	if d.cfg != before {
		t.Error("invalid config replaced the running one")
	}
	if len(fs.statuses) != 0 {
		t.Errorf("status updated on failed reload: %v", fs.statuses)
	}
}

func TestDaemonReload_MissingFileKeepsConfig(t *testing.T) {
	d, fs := newTestDaemon(t)

	if err := os.WriteFile(d.paths.Config(), []byte("version = 2\n[commands]\nprefix = \"??\"\n[store]\nbackend = \"memory\"\n[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d.reload()
	loaded := d.cfg
	if loaded.Commands.Prefix != "??" {
		t.Fatalf("prefix = %q, want ?? after first reload", loaded.Commands.Prefix)
	}

	if err := os.Remove(d.paths.Config()); err != nil {
		t.Fatal(err)
	}
	d.reload()

	if d.cfg != loaded {
		t.Error("deleting config.toml replaced the running config with defaults")
	}
	if d.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug kept", d.level.Level())
	}
	if len(fs.statuses) != 0 {
		t.Errorf("status updated after the file was removed: %v", fs.statuses)
	}
	if _, ok := d.bot.Dispatch(context.Background(), bot.Message{ID: "1", AuthorID: "42", Content: "??op>1+1"}); !ok {
		t.Error("prefix from the removed file should stay active")
	}
}

func TestDaemonLoop_StopsOnSignal(t *testing.T) {
	d, _ := newTestDaemon(t)
	sigCh := make(chan os.Signal, 1)
	changes := make(chan struct{}, 1)
	changes <- struct{}{}

	done := make(chan struct{})
	go func() {
		d.loop(sigCh, changes)
		close(done)
	}()
	sigCh <- os.Interrupt
	<-done
}

// ///////////////////////////////////////////////
// Command Tests
// ///////////////////////////////////////////////

func TestCalcCmd(t *testing.T) {
	out, err := execute(t, "calc", "1+x*3,x=5")
	if err != nil {
		t.Fatalf("calc error: %v", err)
	}
	if strings.TrimSpace(out) != calc.Reply("1+x*3,x=5") {
		t.Errorf("calc output = %q", out)
	}

	out, err = execute(t, "calc", "--raw", "1+x*3,x=5")
	if err != nil {
		t.Fatalf("calc --raw error: %v", err)
	}
	if strings.TrimSpace(out) != "16" {
		t.Errorf("calc --raw output = %q, want 16", out)
	}

	if _, err := execute(t, "calc", "--raw", "1/"); !errors.Is(err, calc.ErrCalculation) {
		t.Errorf("calc --raw error = %v, want ErrCalculation", err)
	}
}

func TestConfigInitCmd(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	out, err := execute(t, "--data-dir", dir, "config", "init")
	if err != nil {
		t.Fatalf("config init error: %v", err)
	}
	if !strings.Contains(out, "wrote") {
		t.Errorf("first init output = %q", out)
	}
	if _, err := config.Load(dir); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	out, err = execute(t, "--data-dir", dir, "config", "init")
	if err != nil {
		t.Fatalf("second config init error: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("second init output = %q", out)
	}
}

func TestConfigCheckCmd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, paths.ConfigFile), []byte("version = 2\n[store]\nbackend = \"memory\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(config.EnvDiscordToken, "")
	if _, err := execute(t, "--data-dir", dir, "config", "check"); err == nil {
		t.Error("expected error without a Discord token")
	}

	t.Setenv(config.EnvDiscordToken, "token")
	out, err := execute(t, "--data-dir", dir, "config", "check")
	if err != nil {
		t.Fatalf("config check error: %v", err)
	}
	if !strings.Contains(out, "store memory") {
		t.Errorf("config check output = %q", out)
	}
}

func TestLogsCmd(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "--data-dir", dir, "logs"); err == nil {
		t.Error("expected error without a log file")
	}

	if err := os.WriteFile(filepath.Join(dir, paths.LogFile), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--data-dir", dir, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs error: %v", err)
	}
	if out != "two\nthree\n" {
		t.Errorf("logs output = %q, want last two lines", out)
	}
}

func TestVersionCmd(t *testing.T) {
	original := version
	defer func() { version = original }()
	version = "1.2.3"

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if out != "1.2.3\n" {
		t.Errorf("version output = %q", out)
	}
}
