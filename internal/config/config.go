package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envS3Endpoint = "IMAPFETCH_S3_ENDPOINT"
	envS3Region   = "IMAPFETCH_S3_REGION"
	envS3Bucket   = "IMAPFETCH_S3_BUCKET"
	envS3Key      = "IMAPFETCH_S3_KEY"
	envS3Secret   = "IMAPFETCH_S3_SECRET"
)

const defaultTimeout = 3 * time.Minute

// Config holds the account list loaded from YAML. Secrets may be deferred to
// environment variables via password_env.
type Config struct {
	Accounts []Account `yaml:"accounts"`
}

// Account describes one mailbox account to synchronize.
type Account struct {
	Name        string `yaml:"name"`
	Server      string `yaml:"server"` // host:port
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Archive     string `yaml:"archive"`
	Incremental *bool  `yaml:"incremental"` // defaults to true
	Store       string `yaml:"store"`       // "fs" (default) or "s3"
	Timeout     string `yaml:"timeout"`     // per-call network timeout
}

// S3Env holds the S3 connection details from environment variables.
type S3Env struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
	Secret   string
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate performs basic validation on the loaded config.
func Validate(cfg Config) error {
	if len(cfg.Accounts) == 0 {
		return errors.New("config must define at least one account")
	}
	seen := map[string]bool{}
	for i, account := range cfg.Accounts {
		if strings.TrimSpace(account.Name) == "" {
			return fmt.Errorf("account %d must define a name", i+1)
		}
		if seen[account.Name] {
			return fmt.Errorf("account name %q is used more than once", account.Name)
		}
		seen[account.Name] = true

		if strings.TrimSpace(account.Server) == "" {
			return fmt.Errorf("account %q must define server", account.Name)
		}
		if strings.TrimSpace(account.Username) == "" {
			return fmt.Errorf("account %q must define username", account.Name)
		}
		if account.Password == "" && strings.TrimSpace(account.PasswordEnv) == "" {
			return fmt.Errorf("account %q must define password or password_env", account.Name)
		}
		if strings.TrimSpace(account.Archive) == "" {
			return fmt.Errorf("account %q must define archive", account.Name)
		}
		switch account.Store {
		case "", "fs", "s3":
		default:
			return fmt.Errorf("account %q store must be \"fs\" or \"s3\"", account.Name)
		}
		if _, err := account.TimeoutDuration(); err != nil {
			return fmt.Errorf("account %q has an invalid timeout: %w", account.Name, err)
		}
	}
	return nil
}

// ResolvePassword returns the literal password or the value of the
// password_env variable.
func (a Account) ResolvePassword() (string, error) {
	if a.Password != "" {
		return a.Password, nil
	}
	pass := os.Getenv(a.PasswordEnv)
	if pass == "" {
		return "", fmt.Errorf("environment variable %s is not set", a.PasswordEnv)
	}
	return pass, nil
}

// IncrementalEnabled reports whether the account resumes from stored
// watermarks (the default) instead of re-scanning every folder from UID 1.
func (a Account) IncrementalEnabled() bool {
	return a.Incremental == nil || *a.Incremental
}

// StoreBackend returns the configured archive backend name.
func (a Account) StoreBackend() string {
	if a.Store == "" {
		return "fs"
	}
	return a.Store
}

// TimeoutDuration parses the per-call network timeout, defaulting when unset.
func (a Account) TimeoutDuration() (time.Duration, error) {
	trimmed := strings.TrimSpace(a.Timeout)
	if trimmed == "" {
		return defaultTimeout, nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, errors.New("timeout must be positive")
	}
	return dur, nil
}

// ArchiveRoot returns the account's archive directory with a leading ~
// expanded.
func (a Account) ArchiveRoot() string {
	return ExpandHome(a.Archive)
}

// IndexPath returns the dedup index location, kept inside the archive
// directory so archive and index travel together.
func (a Account) IndexPath() string {
	return filepath.Join(a.ArchiveRoot(), "index.db")
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

// S3FromEnv loads S3 connection details and validates required entries.
func S3FromEnv() (S3Env, error) {
	missing := []string{}

	region := strings.TrimSpace(os.Getenv(envS3Region))
	if region == "" {
		missing = append(missing, envS3Region)
	}
	bucket := strings.TrimSpace(os.Getenv(envS3Bucket))
	if bucket == "" {
		missing = append(missing, envS3Bucket)
	}
	key := strings.TrimSpace(os.Getenv(envS3Key))
	if key == "" {
		missing = append(missing, envS3Key)
	}
	secret := strings.TrimSpace(os.Getenv(envS3Secret))
	if secret == "" {
		missing = append(missing, envS3Secret)
	}

	if len(missing) > 0 {
		return S3Env{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return S3Env{
		Endpoint: strings.TrimSpace(os.Getenv(envS3Endpoint)),
		Region:   region,
		Bucket:   bucket,
		Key:      key,
		Secret:   secret,
	}, nil
}

// Summary returns a concise config summary for validation runs.
func Summary(cfg Config) string {
	lines := []string{fmt.Sprintf("Config summary\n- accounts: %d", len(cfg.Accounts))}
	for _, account := range cfg.Accounts {
		mode := "incremental"
		if !account.IncrementalEnabled() {
			mode = "full re-scan"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s -> %s (%s, %s)",
			account.Name, account.Server, account.ArchiveRoot(), account.StoreBackend(), mode))
	}
	return strings.Join(lines, "\n")
}
