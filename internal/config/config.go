package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
)

const (
	DefaultPort     = 143
	DefaultFolder   = "[Gmail]/Sent Mail"
	DefaultTrash    = "[Gmail]/Trash"
	DefaultTimeout  = 2 * time.Minute
	DefaultLogLevel = "info"
	DefaultSFTPPort = 22

	LockFileName = ".wkmailmove.lck"
	envFileName  = ".env"
)

type Account struct {
	ID       string `yaml:"id"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Keyring names an OS keyring item holding the password.
	Keyring string `yaml:"keyring"`
}

type ServerConfig struct {
	Server      string         `yaml:"server"`
	Port        int            `yaml:"port"`
	SSL         bool           `yaml:"ssl"`
	InsecureTLS bool           `yaml:"insecure_tls"`
	AccountID   string         `yaml:"account_id"`
	Folder      string         `yaml:"folder"`
	Trash       string         `yaml:"trash"`
	Timeout     *time.Duration `yaml:"timeout"`

	passwordOverride string
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type SFTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Dir             string `yaml:"dir"`
	KnownHosts      string `yaml:"known_hosts"`
	InsecureHostKey bool   `yaml:"insecure_host_key"`
}

func (s SFTPConfig) Enabled() bool { return s.Host != "" }

func (s SFTPConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type ArchiveConfig struct {
	Maildir string     `yaml:"maildir"`
	SFTP    SFTPConfig `yaml:"sftp"`
}

type Config struct {
	Log      LogConfig     `yaml:"log"`
	Accounts []Account     `yaml:"accounts"`
	Source   *ServerConfig `yaml:"source"`
	Target   *ServerConfig `yaml:"target"`
	Journal  JournalConfig `yaml:"journal"`
	Archive  ArchiveConfig `yaml:"archive"`

	// Dir is the directory holding the configuration file.
	Dir string `yaml:"-"`
}

type envOverrides struct {
	SourcePassword string `env:"WKMAILMOVE_SOURCE_PASSWORD"`
	TargetPassword string `env:"WKMAILMOVE_TARGET_PASSWORD"`
	LogLevel       string `env:"WKMAILMOVE_LOG_LEVEL"`
	JournalPath    string `env:"WKMAILMOVE_JOURNAL_PATH"`
}

// Unquote strips one pair of surrounding single or double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ResolvePath returns the absolute path of the configuration file. A path
// that does not exist is retried relative to the executable's directory.
func ResolvePath(path string) (string, error) {
	path = Unquote(path)
	if path == "" {
		return "", errors.Wrap(moverrors.ErrConfig, "configuration file is required")
	}
	if _, err := os.Stat(path); err != nil && !filepath.IsAbs(path) {
		if exe, exeErr := os.Executable(); exeErr == nil {
			candidate := filepath.Join(filepath.Dir(exe), path)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(moverrors.ErrConfig, "resolve %s: %v", path, err)
	}
	if info, err := os.Stat(abs); err != nil || info.IsDir() {
		return "", errors.Wrapf(moverrors.ErrConfig, "configuration file %s is not a readable file", abs)
	}
	return abs, nil
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(moverrors.ErrConfig, "failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(moverrors.ErrConfig, "failed to parse config file: %v", err)
	}
	cfg.Dir = filepath.Dir(path)

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if err := godotenv.Load(filepath.Join(c.Dir, envFileName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(moverrors.ErrConfig, "failed to load %s: %v", envFileName, err)
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return errors.Wrapf(moverrors.ErrConfig, "failed to read environment: %v", err)
	}
	if o.SourcePassword != "" && c.Source != nil {
		c.Source.passwordOverride = o.SourcePassword
	}
	if o.TargetPassword != "" && c.Target != nil {
		c.Target.passwordOverride = o.TargetPassword
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.JournalPath != "" {
		c.Journal.Path = o.JournalPath
	}
	return nil
}

func (c *Config) setDefaults(path string) {
	if c.Log.Path == "" {
		c.Log.Path = strings.TrimSuffix(path, filepath.Ext(path)) + ".log"
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	for _, s := range []*ServerConfig{c.Source, c.Target} {
		if s == nil {
			continue
		}
		s.Server = strings.TrimSpace(s.Server)
		if s.Port == 0 {
			s.Port = DefaultPort
		}
		if s.Folder = Unquote(s.Folder); s.Folder == "" {
			s.Folder = DefaultFolder
		}
		if s.Trash = Unquote(s.Trash); s.Trash == "" {
			s.Trash = DefaultTrash
		}
		if s.Timeout == nil {
			timeout := DefaultTimeout
			s.Timeout = &timeout
		}
	}
	if c.Archive.SFTP.Enabled() && c.Archive.SFTP.Port == 0 {
		c.Archive.SFTP.Port = DefaultSFTPPort
	}
}

func (c *Config) Validate() error {
	if c.Source == nil {
		return errors.Wrap(moverrors.ErrConfig, "no source server specified in the configuration")
	}
	if c.Target == nil {
		return errors.Wrap(moverrors.ErrConfig, "no target server specified in the configuration")
	}

	accounts := make(map[string]Account, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" || a.User == "" {
			return errors.Wrapf(moverrors.ErrConfig, "account #%d needs both id and user", i+1)
		}
		if _, dup := accounts[a.ID]; dup {
			return errors.Wrapf(moverrors.ErrConfig, "account %q is defined twice", a.ID)
		}
		accounts[a.ID] = a
	}

	for _, server := range []struct {
		role string
		cfg  *ServerConfig
	}{{"source", c.Source}, {"target", c.Target}} {
		role, s := server.role, server.cfg
		if s.Server == "" {
			return errors.Wrapf(moverrors.ErrConfig, "%s: server is required", role)
		}
		if s.Port < 1 || s.Port > 65535 {
			return errors.Wrapf(moverrors.ErrConfig, "%s: port %d out of range", role, s.Port)
		}
		if s.Timeout != nil && *s.Timeout < 0 {
			return errors.Wrapf(moverrors.ErrConfig, "%s: negative timeout", role)
		}
		a, ok := accounts[s.AccountID]
		if !ok {
			return errors.Wrapf(moverrors.ErrConfig, "%s: unknown account %q", role, s.AccountID)
		}
		if a.Password == "" && a.Keyring == "" && s.passwordOverride == "" {
			return errors.Wrapf(moverrors.ErrConfig, "%s: account %q has neither password nor keyring", role, a.ID)
		}
	}

	if sftp := c.Archive.SFTP; sftp.Enabled() {
		if sftp.User == "" || sftp.Dir == "" {
			return errors.Wrap(moverrors.ErrConfig, "archive.sftp: user and dir are required")
		}
		if sftp.KnownHosts == "" && !sftp.InsecureHostKey {
			return errors.Wrap(moverrors.ErrConfig, "archive.sftp: known_hosts is required unless insecure_host_key is set")
		}
	}
	return nil
}

func (c *Config) LockPath() string {
	return filepath.Join(c.Dir, LockFileName)
}

// Endpoint is the resolved, immutable connection description of one server.
type Endpoint struct {
	Host        string
	Port        int
	TLS         bool
	InsecureTLS bool
	Username    string
	Password    string
	Folder      string
	Trash       string
	Timeout     time.Duration
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Username + "@" + e.Address()
}

// Endpoints resolves account credentials and returns the source and
// target endpoints.
func (c *Config) Endpoints(creds *Credentials) (source, target Endpoint, err error) {
	source, err = c.endpoint("source", c.Source, creds)
	if err != nil {
		return Endpoint{}, Endpoint{}, err
	}
	target, err = c.endpoint("target", c.Target, creds)
	if err != nil {
		return Endpoint{}, Endpoint{}, err
	}
	return source, target, nil
}

func (c *Config) endpoint(role string, s *ServerConfig, creds *Credentials) (Endpoint, error) {
	user, err := creds.User(s.AccountID)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "%s credentials", role)
	}
	password := s.passwordOverride
	if password == "" {
		if password, err = creds.Password(s.AccountID); err != nil {
			return Endpoint{}, errors.Wrapf(err, "%s credentials", role)
		}
	}
	timeout := DefaultTimeout
	if s.Timeout != nil {
		timeout = *s.Timeout
	}
	return Endpoint{
		Host:        s.Server,
		Port:        s.Port,
		TLS:         s.SSL,
		InsecureTLS: s.InsecureTLS,
		Username:    user,
		Password:    password,
		Folder:      s.Folder,
		Trash:       s.Trash,
		Timeout:     timeout,
	}, nil
}
