package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/ttrss-to-maildir/syncerr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return LoadConfig(cmd)
}

func TestLoadFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "sync.toml",
			content: `api_url = "https://rss.example.com/api/"
user = "alice"
pass = "x"
maildir = "/tmp/Mail"
request_timeout = "30s"
relogin_attempts = 2
`,
		},
		{
			name: "hcl",
			file: "sync.hcl",
			content: `api_url = "https://rss.example.com/api/"
user = "alice"
pass = "x"
maildir = "/tmp/Mail"
request_timeout = "30s"
relogin_attempts = 2
`,
		},
		{
			name: "yaml",
			file: "sync.yaml",
			content: `api_url: https://rss.example.com/api/
user: alice
pass: x
maildir: /tmp/Mail
request_timeout: 30s
relogin_attempts: 2
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := LoadFile(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if file.APIURL != "https://rss.example.com/api/" || file.User != "alice" || file.Pass != "x" {
				t.Errorf("credentials = %+v", file)
			}
			if file.RequestTimeout != 30*time.Second {
				t.Errorf("RequestTimeout = %v", file.RequestTimeout)
			}
			if file.ReloginAttempts != 2 {
				t.Errorf("ReloginAttempts = %d", file.ReloginAttempts)
			}
			if file.Target != TargetMaildir || file.IMAPPort != 993 || !file.IMAPUseTLS || file.IMAPFolder != "INBOX" {
				t.Errorf("defaults not applied: %+v", file)
			}
		})
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	file, err := LoadFile(writeFile(t, "sync.toml", "api_url = \"http://localhost/api/\"\nuser = \"alice\"\n"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if file.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want 60s", file.RequestTimeout)
	}
	if file.ReloginAttempts != 1 {
		t.Errorf("ReloginAttempts = %d, want 1", file.ReloginAttempts)
	}
	if file.AllowUnknownFields {
		t.Error("AllowUnknownFields should default to false")
	}
}

func TestLoadFile_Env(t *testing.T) {
	t.Setenv("TTRSS_PASS", "from-env")
	file, err := LoadFile(writeFile(t, "sync.toml", "api_url = \"http://localhost/api/\"\nuser = \"alice\"\n"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if file.Pass != "from-env" {
		t.Errorf("Pass = %q, want from-env", file.Pass)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.toml") }},
		{"missing required", func(t *testing.T) string { return writeFile(t, "sync.toml", "user = \"alice\"\n") }},
		{"unknown key", func(t *testing.T) string {
			return writeFile(t, "sync.toml", "api_url = \"http://localhost/\"\nuser = \"alice\"\nbogus = 1\n")
		}},
		{"empty path", func(*testing.T) string { return "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path(t))
			if !errors.Is(err, syncerr.ErrConfig) {
				t.Fatalf("LoadFile() error = %v, want config error", err)
			}
		})
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	path := writeFile(t, "sync.toml", `api_url = "https://rss.example.com/api/"
user = "alice"
maildir = "/tmp/Mail"
mbox_path = "/tmp/feeds.mbox"
`)

	cfg, err := load(t, "--config", path, "--dry-run", "--interval", "5m", "--log-level", "WARNING", "--target", "mbox")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.DryRun || cfg.Interval != 5*time.Minute || cfg.LogLevel != "warn" || cfg.Target != TargetMbox {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath = %q", cfg.ConfigPath)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := Config{
		File: File{
			APIURL:     "https://rss.example.com/api/",
			User:       "alice",
			Target:     TargetMaildir,
			Maildir:    "/tmp/Mail",
			IMAPPort:   993,
			IMAPFolder: "INBOX",
		},
		LogLevel: "info",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.APIURL = "ftp://rss.example.com/" }, "api_url"},
		{"no host", func(c *Config) { c.APIURL = "https://" }, "api_url"},
		{"missing maildir", func(c *Config) { c.Maildir = "" }, "maildir is required"},
		{"missing mbox path", func(c *Config) { c.Target = TargetMbox }, "mbox_path is required"},
		{"imap without host", func(c *Config) { c.Target = TargetIMAP }, "imap_host is required"},
		{"imap without password", func(c *Config) {
			c.Target, c.IMAPHost, c.IMAPUser = TargetIMAP, "mail.example.com", "bob"
		}, "IMAP password"},
		{"imap bad port", func(c *Config) {
			c.Target, c.IMAPHost, c.IMAPUser, c.IMAPPass, c.IMAPPort = TargetIMAP, "mail.example.com", "bob", "pw", 70000
		}, "imap_port"},
		{"unknown target", func(c *Config) { c.Target = "pop3" }, "invalid target"},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }, "request_timeout"},
		{"negative relogin", func(c *Config) { c.ReloginAttempts = -1 }, "relogin_attempts"},
		{"filters conflict", func(c *Config) {
			c.IncludeTitle, c.ExcludeContent = []string{"go"}, []string{"ads"}
		}, "mutually exclusive"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validateConfig() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validateConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
