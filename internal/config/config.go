package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvServicePassword supplies the service password in place of
// service.servicepw.
const EnvServicePassword = "DETECTEDITS_SERVICE_PASSWORD"

// ErrConfigMissing is the cause of every MissingKeysError.
var ErrConfigMissing = errors.New("configuration incomplete")

// MissingKeysError lists required keys that are absent or empty.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%v: missing %s", ErrConfigMissing, strings.Join(e.Keys, ", "))
}

func (e *MissingKeysError) Unwrap() error { return ErrConfigMissing }

// Config represents the configuration of one detectedits job.
// The service, filenames and email sections use the key names of the
// JSON init file the job has always read.
type Config struct {
	Service   ServiceConfig   `json:"service" toml:"service"`
	Filenames FilenamesConfig `json:"filenames" toml:"filenames"`
	Email     EmailConfig     `json:"email" toml:"email"`

	LogDir      string `json:"log_dir,omitempty" toml:"log_dir,omitempty"`
	ArtifactDir string `json:"artifact_dir,omitempty" toml:"artifact_dir,omitempty"`

	Watermark WatermarkConfig `json:"watermark" toml:"watermark"`
	Transport TransportConfig `json:"transport" toml:"transport"`
	Database  DatabaseConfig  `json:"database" toml:"database"`
	Metrics   MetricsConfig   `json:"metrics" toml:"metrics"`
	Secrets   SecretsConfig   `json:"secrets" toml:"secrets"`
}

// ServiceConfig locates the feature layer and holds its credentials.
type ServiceConfig struct {
	FSURL          string    `json:"fsURL" toml:"fsURL"`
	FSLayerNum     LayerNum  `json:"fsLayerNum" toml:"fsLayerNum"`
	PortalURL      string    `json:"portalURL" toml:"portalURL"`
	ServiceUser    string    `json:"serviceuser" toml:"serviceuser"`
	ServicePW      string    `json:"servicepw,omitempty" toml:"servicepw,omitempty"`
	ServicePWFile  string    `json:"servicepwfile,omitempty" toml:"servicepwfile,omitempty"` // age-encrypted password
	FieldsToReport FieldList `json:"fieldstoreport" toml:"fieldstoreport"`
	ViewerMapLevel int       `json:"viewerMapLevel" toml:"viewerMapLevel"`
	Referer        string    `json:"referer,omitempty" toml:"referer,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
}

// FilenamesConfig names files the job keeps between runs.
type FilenamesConfig struct {
	LastEditFile string `json:"lasteditfile" toml:"lasteditfile"`
}

// EmailConfig describes the notification message and its mail server.
type EmailConfig struct {
	Server     ServerConfig `json:"server" toml:"server"`
	OneMail    Flag         `json:"onemailflag" toml:"onemailflag"`
	Recipients []string     `json:"recipients" toml:"recipients"`
	From       string       `json:"from" toml:"from"`
	Subject    string       `json:"subject" toml:"subject"`
	Text       string       `json:"text" toml:"text"`
}

// ServerConfig is the SMTP server. In JSON it may also be written as the
// positional array [host, port, username, password].
type ServerConfig struct {
	Host         string `json:"host" toml:"host"`
	Port         int    `json:"port" toml:"port"`
	Username     string `json:"username,omitempty" toml:"username,omitempty"`
	Password     string `json:"password,omitempty" toml:"password,omitempty"`
	PasswordFile string `json:"password_file,omitempty" toml:"password_file,omitempty"` // age-encrypted password
}

// WatermarkConfig selects the watermark store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type WatermarkConfig struct {
	Type string `json:"type,omitempty" toml:"type,omitempty"` // "file" (default), "memory", "s3" or "postgres"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `json:"s3_bucket,omitempty" toml:"s3_bucket,omitempty"`
	S3Key    string `json:"s3_key,omitempty" toml:"s3_key,omitempty"`
	S3Region string `json:"s3_region,omitempty" toml:"s3_region,omitempty"`

	// S3Endpoint points the client at an S3-compatible service instead of AWS.
	S3Endpoint        string `json:"s3_endpoint,omitempty" toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `json:"s3_access_key_id,omitempty" toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `json:"s3_secret_access_key,omitempty" toml:"s3_secret_access_key,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	DSN string `json:"dsn,omitempty" toml:"dsn,omitempty"`
}

// TransportConfig selects how notifications leave the job.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TransportConfig struct {
	Type string `json:"type,omitempty" toml:"type,omitempty"` // "smtp" (default), "amqp" or "memory"

	// AMQP-specific fields (only used when Type == "amqp")
	AMQPURL    string `json:"amqp_url,omitempty" toml:"amqp_url,omitempty"`
	Exchange   string `json:"exchange,omitempty" toml:"exchange,omitempty"`
	RoutingKey string `json:"routing_key,omitempty" toml:"routing_key,omitempty"`
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `json:"type,omitempty" toml:"type,omitempty"`         // "sqlite" (default) or "memory"
	DataDir string `json:"data_dir,omitempty" toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MetricsConfig enables pushing run metrics to a Prometheus Pushgateway.
type MetricsConfig struct {
	Pushgateway string `json:"pushgateway,omitempty" toml:"pushgateway,omitempty"`
	Job         string `json:"job,omitempty" toml:"job,omitempty"`
}

// SecretsConfig holds paths to the age key pair that protects stored passwords.
type SecretsConfig struct {
	PublicKeyPath  string `json:"public_key_path,omitempty" toml:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty" toml:"private_key_path,omitempty"`
}

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		Service: ServiceConfig{
			FieldsToReport: FieldList{"*"},
			ViewerMapLevel: 15,
			TimeoutSeconds: 60,
		},
		Filenames: FilenamesConfig{
			LastEditFile: "lasteditdate.json",
		},
		Email: EmailConfig{
			Server:  ServerConfig{Port: 587},
			Subject: "Feature service additions",
			Text:    "New features were added to the service",
		},
		LogDir:      filepath.Join(baseDir, "log"),
		ArtifactDir: filepath.Join(baseDir, "errors"),
		Watermark:   WatermarkConfig{Type: "file"},
		Transport:   TransportConfig{Type: "smtp"},
		Database:    DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Secrets:     SecretsConfig{}.WithDefaults(baseDir),
	}
}

// WithDefaults fills empty key paths with the key files under <baseDir>/keys.
func (s SecretsConfig) WithDefaults(baseDir string) SecretsConfig {
	if s.PublicKeyPath == "" {
		s.PublicKeyPath = filepath.Join(baseDir, "keys", "detectedits.pub")
	}
	if s.PrivateKeyPath == "" {
		s.PrivateKeyPath = filepath.Join(baseDir, "keys", "detectedits.key")
	}
	return s
}

// Validate reports every required key that is missing.
func (c *Config) Validate() error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	need(c.Service.FSURL != "", "service.fsURL")
	need(c.Service.FSLayerNum != "", "service.fsLayerNum")
	need(c.Service.PortalURL != "", "service.portalURL")
	need(c.Service.ServiceUser != "", "service.serviceuser")
	need(c.Service.ServicePW != "" || c.Service.ServicePWFile != "" || os.Getenv(EnvServicePassword) != "",
		"service.servicepw")
	need(len(c.Service.FieldsToReport) > 0, "service.fieldstoreport")
	need(c.Service.ViewerMapLevel != 0, "service.viewerMapLevel")
	if c.Watermark.Type == "" || c.Watermark.Type == "file" {
		need(c.Filenames.LastEditFile != "", "filenames.lasteditfile")
	}
	if c.Transport.Type == "" || c.Transport.Type == "smtp" {
		need(c.Email.Server.Host != "", "email.server")
	}
	need(len(c.Email.Recipients) > 0, "email.recipients")
	need(c.Email.From != "", "email.from")
	need(c.Email.Subject != "", "email.subject")
	need(c.Email.Text != "", "email.text")

	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingKeysError{Keys: missing}
	}

	if _, err := c.Service.FSLayerNum.Int(); err != nil {
		return err
	}
	for _, r := range c.Email.Recipients {
		if !strings.Contains(r, "@") {
			return fmt.Errorf("invalid recipient %q: not an email address", r)
		}
	}
	return nil
}

// LayerURL joins the service URL and layer number.
func (c *Config) LayerURL() string {
	return strings.TrimSuffix(c.Service.FSURL, "/") + "/" + string(c.Service.FSLayerNum)
}

// Format is an on-disk config encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatTOML
)

// FormatForPath picks the encoding from the file extension. Anything that
// is not .toml is read as JSON.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// Manager handles reading and writing configuration in one format.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg as a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
