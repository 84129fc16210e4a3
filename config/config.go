package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/spf13/cobra"

	"github.com/dhcgn/ttrss-to-maildir/syncerr"
)

const (
	TargetMaildir = "maildir"
	TargetMbox    = "mbox"
	TargetIMAP    = "imap"
)

// File holds the settings read from the config file and the TTRSS_*
// environment.
type File struct {
	APIURL             string        `toml:"api_url" hcl:"api_url" yaml:"api_url" json:"api_url" env:"API_URL" required:"true"`
	User               string        `toml:"user" hcl:"user" yaml:"user" json:"user" env:"USER" required:"true"`
	Pass               string        `toml:"pass" hcl:"pass" yaml:"pass" json:"pass" env:"PASS"`
	Target             string        `toml:"target" hcl:"target" yaml:"target" json:"target" env:"TARGET" default:"maildir"`
	Maildir            string        `toml:"maildir" hcl:"maildir" yaml:"maildir" json:"maildir" env:"MAILDIR"`
	MboxPath           string        `toml:"mbox_path" hcl:"mbox_path" yaml:"mbox_path" json:"mbox_path" env:"MBOX_PATH"`
	IMAPHost           string        `toml:"imap_host" hcl:"imap_host" yaml:"imap_host" json:"imap_host" env:"IMAP_HOST"`
	IMAPPort           int           `toml:"imap_port" hcl:"imap_port" yaml:"imap_port" json:"imap_port" env:"IMAP_PORT" default:"993"`
	IMAPUser           string        `toml:"imap_user" hcl:"imap_user" yaml:"imap_user" json:"imap_user" env:"IMAP_USER"`
	IMAPPass           string        `toml:"imap_pass" hcl:"imap_pass" yaml:"imap_pass" json:"imap_pass" env:"IMAP_PASS"`
	IMAPUseTLS         bool          `toml:"imap_use_tls" hcl:"imap_use_tls" yaml:"imap_use_tls" json:"imap_use_tls" env:"IMAP_USE_TLS" default:"true"`
	InsecureSkipVerify bool          `toml:"imap_insecure_skip_verify" hcl:"imap_insecure_skip_verify" yaml:"imap_insecure_skip_verify" json:"imap_insecure_skip_verify" env:"IMAP_INSECURE_SKIP_VERIFY"`
	IMAPFolder         string        `toml:"imap_folder" hcl:"imap_folder" yaml:"imap_folder" json:"imap_folder" env:"IMAP_FOLDER" default:"INBOX"`
	RequestTimeout     time.Duration `toml:"request_timeout" hcl:"request_timeout" yaml:"request_timeout" json:"request_timeout" env:"REQUEST_TIMEOUT" default:"60s"`
	AllowUnknownFields bool          `toml:"allow_unknown_fields" hcl:"allow_unknown_fields" yaml:"allow_unknown_fields" json:"allow_unknown_fields" env:"ALLOW_UNKNOWN_FIELDS"`
	ReloginAttempts    int           `toml:"relogin_attempts" hcl:"relogin_attempts" yaml:"relogin_attempts" json:"relogin_attempts" env:"RELOGIN_ATTEMPTS" default:"1"`
	IncludeTitle       []string      `toml:"include_title" hcl:"include_title" yaml:"include_title" json:"include_title" env:"INCLUDE_TITLE"`
	ExcludeTitle       []string      `toml:"exclude_title" hcl:"exclude_title" yaml:"exclude_title" json:"exclude_title" env:"EXCLUDE_TITLE"`
	IncludeContent     []string      `toml:"include_content" hcl:"include_content" yaml:"include_content" json:"include_content" env:"INCLUDE_CONTENT"`
	ExcludeContent     []string      `toml:"exclude_content" hcl:"exclude_content" yaml:"exclude_content" json:"exclude_content" env:"EXCLUDE_CONTENT"`
}

// Config is the file configuration plus the options that only exist as
// command-line flags.
type Config struct {
	File

	ConfigPath string
	LogLevel   string
	LogDir     string
	DryRun     bool
	Interval   time.Duration
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "sync.toml", "Path to the config file (.toml, .hcl, .yaml)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files in addition to stdout")
	flags.Bool("dry-run", false, "Fetch and render without writing any message")
	flags.Duration("interval", 0, "Repeat the sync every interval until interrupted (0 = single pass)")
	flags.String("target", "", "Override the configured target: maildir, mbox or imap")
}

// LoadConfig reads the config file named by --config, applies the
// environment and the flag overrides and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}
	interval, err := flags.GetDuration("interval")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}
	target, err := flags.GetString("target")
	if err != nil {
		return Config{}, syncerr.Config("flags", err)
	}

	file, err := LoadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	if target != "" {
		file.Target = strings.ToLower(target)
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		File:       file,
		ConfigPath: configPath,
		LogLevel:   logLevel,
		LogDir:     logDir,
		DryRun:     dryRun,
		Interval:   interval,
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, syncerr.Config("validate", err)
	}
	return cfg, nil
}

// LoadFile decodes path by extension and overlays TTRSS_* environment
// variables. A missing file is an error.
func LoadFile(path string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return File{}, syncerr.Config("load", fmt.Errorf("config path is empty"))
	}

	var file File
	loader := aconfig.LoaderFor(&file, aconfig.Config{
		SkipFlags:          true,
		EnvPrefix:          "TTRSS",
		Files:              []string{path},
		FailOnFileNotFound: true,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
			".hcl":  aconfighcl.New(),
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return File{}, syncerr.Config("load", fmt.Errorf("%s: %w", path, err))
	}

	file.Target = strings.ToLower(strings.TrimSpace(file.Target))
	return file, nil
}

func validateConfig(cfg Config) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an http or https URL, got %q", cfg.APIURL)
	}
	if cfg.User == "" {
		return fmt.Errorf("user is required")
	}

	switch cfg.Target {
	case TargetMaildir:
		if cfg.Maildir == "" {
			return fmt.Errorf("maildir is required when target is maildir")
		}
	case TargetMbox:
		if cfg.MboxPath == "" {
			return fmt.Errorf("mbox_path is required when target is mbox")
		}
	case TargetIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("imap_host is required when target is imap")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("imap_user is required when target is imap")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via imap_pass or TTRSS_IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("imap_port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("invalid target: %q", cfg.Target)
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if cfg.ReloginAttempts < 0 {
		return fmt.Errorf("relogin_attempts must not be negative")
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("--interval must not be negative")
	}

	includeActive := len(cfg.IncludeTitle) > 0 || len(cfg.IncludeContent) > 0
	excludeActive := len(cfg.ExcludeTitle) > 0 || len(cfg.ExcludeContent) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
