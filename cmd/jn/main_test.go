package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/profile"
)

const (
	alice = "0b6f2c1e-2a4d-4c8e-9f10-3d5a7b9c1e01"
	bob   = "0b6f2c1e-2a4d-4c8e-9f10-3d5a7b9c1e02"
	agent = "7a1d9e3c-5b2f-4e6a-8c0d-1f3b5d7e9a11"
)

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

// sqliteConfig writes a config pointing at a fresh SQLite file and returns
// the flags every command needs.
func sqliteConfig(t *testing.T, extra string) []string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "junction.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\n%s", filepath.Join(dir, "junction.db"), extra)
	if err := writeTestFile(cfgPath, content); err != nil {
		t.Fatal(err)
	}
	return []string{"--config", cfgPath, "--env", filepath.Join(dir, ".env")}
}

// run executes the root command with args and returns combined output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	if err != nil {
		t.Fatalf("jn %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "jn dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("output = %q", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out := mustRun(t, "version")
	if !strings.Contains(out, "jn 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("output = %q", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out := mustRun(t, "--help")
	for _, want := range []string{"Junction", "serve", "db", "agent", "unread", "config", "version"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}

func TestMissingConfig(t *testing.T) {
	for _, args := range [][]string{
		{"serve"},
		{"db", "migrate"},
		{"agent", "list", "acme"},
		{"unread", "recount", alice},
		{"config", "check"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			full := append(args, "--config", "/nonexistent/junction.yaml", "--env", "/nonexistent/.env")
			_, err := run(t, "", full...)
			if err == nil || !strings.Contains(err.Error(), "load config") {
				t.Errorf("err = %v, want load config error", err)
			}
		})
	}
}

func TestConfigCheck(t *testing.T) {
	flags := sqliteConfig(t, "assignment:\n  policy: least_busy\n")
	out := mustRun(t, append([]string{"config", "check"}, flags...)...)
	for _, want := range []string{"is valid", "sqlite", "least_busy", "anonymous", "notify:     none", "pending drain", "@every 15s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	flags := sqliteConfig(t, "assignment:\n  policy: random\n")
	_, err := run(t, "", append([]string{"config", "check"}, flags...)...)
	if err == nil || !strings.Contains(err.Error(), "assignment.policy") {
		t.Errorf("err = %v", err)
	}
}

func TestConfigCheck_ExpandsDotenv(t *testing.T) {
	const key = "JUNCTION_TEST_POLICY"
	t.Cleanup(func() { os.Unsetenv(key) })

	flags := sqliteConfig(t, "assignment:\n  policy: ${"+key+"}\n")
	envPath := flags[3]
	if err := writeTestFile(envPath, key+"=least_busy\n"); err != nil {
		t.Fatal(err)
	}
	out := mustRun(t, append([]string{"config", "check"}, flags...)...)
	if !strings.Contains(out, "assignment: least_busy") {
		t.Errorf("output = %s", out)
	}
}

func TestBuildResolver(t *testing.T) {
	ctx := context.Background()

	r, closer, err := buildResolver(ctx, config.ProfilesConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(profile.Anonymous); !ok {
		t.Errorf("no directory: resolver = %T", r)
	}
	closer()

	r, _, err = buildResolver(ctx, config.ProfilesConfig{DirectoryURL: "http://directory.test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*profile.Cached); !ok {
		t.Errorf("directory: resolver = %T", r)
	}

	if _, _, err := buildResolver(ctx, config.ProfilesConfig{DirectoryURL: "http://directory.test", RedisURL: "::bad"}); err == nil {
		t.Error("expected error for bad redis url")
	}
}

func TestBuildNotifier_NoneConfigured(t *testing.T) {
	n, err := buildNotifier(context.Background(), config.NotifyConfig{}, &bytes.Buffer{})
	if err != nil || n != nil {
		t.Errorf("notifier = %v, err = %v", n, err)
	}
}

func TestDBMigrateAndReset(t *testing.T) {
	flags := sqliteConfig(t, "")
	tables := len(db.AllModels())

	out := mustRun(t, append([]string{"db", "migrate"}, flags...)...)
	if !strings.Contains(out, fmt.Sprintf("Migrated %d tables", tables)) {
		t.Errorf("migrate output = %s", out)
	}

	out, err := run(t, "no\n", append([]string{"db", "reset"}, flags...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "WARNING") || !strings.Contains(out, "Aborted.") {
		t.Errorf("declined reset output = %s", out)
	}

	out, err = run(t, "yes\n", append([]string{"db", "reset"}, flags...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, fmt.Sprintf("Reset %d tables", tables)) {
		t.Errorf("confirmed reset output = %s", out)
	}

	out = mustRun(t, append([]string{"db", "reset", "--yes"}, flags...)...)
	if strings.Contains(out, "WARNING") {
		t.Errorf("--yes should skip the prompt: %s", out)
	}
}

func TestAgentCommands(t *testing.T) {
	flags := sqliteConfig(t, "")
	mustRun(t, append([]string{"db", "migrate"}, flags...)...)

	out := mustRun(t, append([]string{"agent", "list", "acme"}, flags...)...)
	if !strings.Contains(out, "No agents found for acme.") {
		t.Errorf("empty list = %s", out)
	}

	out = mustRun(t, append([]string{"agent", "add", "--id", agent, "--business", "acme", "--max", "2"}, flags...)...)
	if !strings.Contains(out, "Agent "+agent+" registered for acme (available, max 2)") {
		t.Errorf("add output = %s", out)
	}

	out = mustRun(t, append([]string{"agent", "status", agent, models.AgentOffline}, flags...)...)
	if !strings.Contains(out, "is now offline") {
		t.Errorf("status output = %s", out)
	}

	out = mustRun(t, append([]string{"agent", "list", "acme"}, flags...)...)
	if !strings.Contains(out, agent) || !strings.Contains(out, "offline") {
		t.Errorf("list output = %s", out)
	}
}

func TestAgentCommands_Errors(t *testing.T) {
	flags := sqliteConfig(t, "")
	mustRun(t, append([]string{"db", "migrate"}, flags...)...)

	tests := []struct {
		name string
		args []string
	}{
		{"missing business", []string{"agent", "add"}},
		{"bad status", []string{"agent", "add", "--business", "acme", "--status", "sleeping"}},
		{"zero capacity", []string{"agent", "add", "--business", "acme", "--max", "0"}},
		{"unknown agent", []string{"agent", "status", agent, models.AgentBusy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, "", append(tt.args, flags...)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUnreadRecount(t *testing.T) {
	flags := sqliteConfig(t, "")
	mustRun(t, append([]string{"db", "migrate"}, flags...)...)

	cfg, err := config.Load(flags[1])
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	svc, dispatcher, err := newService(serviceOpts{cfg: cfg, db: gormDB})
	if err != nil {
		t.Fatal(err)
	}
	defer dispatcher.Close()

	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, alice, models.TypeDirect, []string{alice, bob}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"one", "two"} {
		if _, err := svc.SendMessage(ctx, conv.ID, alice, text); err != nil {
			t.Fatal(err)
		}
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}

	out := mustRun(t, append([]string{"unread", "recount", conv.ID}, flags...)...)
	if !strings.Contains(out, "Recounted 2 participants") {
		t.Errorf("output = %s", out)
	}
	lines := strings.Split(out, "\n")
	var aliceLine, bobLine string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, alice):
			aliceLine = l
		case strings.HasPrefix(l, bob):
			bobLine = l
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(aliceLine), " 0") || !strings.HasSuffix(strings.TrimSpace(bobLine), " 2") {
		t.Errorf("counts: alice %q, bob %q", aliceLine, bobLine)
	}
}
