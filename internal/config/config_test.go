package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const initJSON = `{
  "service": {
    "fsURL": "https://services.example.com/arcgis/rest/services/Incidents/FeatureServer/",
    "fsLayerNum": "0",
    "portalURL": "http://www.arcgis.com",
    "serviceuser": "gisuser",
    "servicepw": "secret",
    "fieldstoreport": ["NAME", "TYPE"],
    "viewerMapLevel": 17
  },
  "filenames": {"lasteditfile": "lasteditdate.json"},
  "email": {
    "server": ["smtp.gmail.com", 587, "mailer@example.com", "mailpw"],
    "onemailflag": 1,
    "recipients": ["ops@example.com"],
    "from": "mailer@example.com",
    "subject": "New incidents",
    "text": "Incidents were reported"
  }
}`

func TestManager_ReadJSON(t *testing.T) {
	m := &Manager{Format: FormatJSON}
	cfg, err := m.Read(strings.NewReader(initJSON))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Service.FSLayerNum != "0" {
		t.Errorf("FSLayerNum = %q, want %q", cfg.Service.FSLayerNum, "0")
	}
	if !reflect.DeepEqual([]string(cfg.Service.FieldsToReport), []string{"NAME", "TYPE"}) {
		t.Errorf("FieldsToReport = %v", cfg.Service.FieldsToReport)
	}
	want := ServerConfig{Host: "smtp.gmail.com", Port: 587, Username: "mailer@example.com", Password: "mailpw"}
	if cfg.Email.Server != want {
		t.Errorf("Server = %+v, want %+v", cfg.Email.Server, want)
	}
	if !cfg.Email.OneMail {
		t.Error("OneMail = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := cfg.LayerURL(); got != "https://services.example.com/arcgis/rest/services/Incidents/FeatureServer/0" {
		t.Errorf("LayerURL() = %q", got)
	}
}

func TestManager_ReadJSON_Variants(t *testing.T) {
	tests := []struct {
		name   string
		patch  func(s string) string
		check  func(t *testing.T, cfg *Config)
	}{
		{
			name: "numeric layer and wildcard string",
			patch: func(s string) string {
				s = strings.Replace(s, `"fsLayerNum": "0"`, `"fsLayerNum": 3`, 1)
				return strings.Replace(s, `["NAME", "TYPE"]`, `"*"`, 1)
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Service.FSLayerNum != "3" {
					t.Errorf("FSLayerNum = %q, want %q", cfg.Service.FSLayerNum, "3")
				}
				if !reflect.DeepEqual([]string(cfg.Service.FieldsToReport), []string{"*"}) {
					t.Errorf("FieldsToReport = %v, want [*]", cfg.Service.FieldsToReport)
				}
			},
		},
		{
			name: "server object and boolean flag",
			patch: func(s string) string {
				s = strings.Replace(s, `["smtp.gmail.com", 587, "mailer@example.com", "mailpw"]`,
					`{"host": "mail.example.com", "port": 25}`, 1)
				return strings.Replace(s, `"onemailflag": 1`, `"onemailflag": false`, 1)
			},
			check: func(t *testing.T, cfg *Config) {
				want := ServerConfig{Host: "mail.example.com", Port: 25}
				if cfg.Email.Server != want {
					t.Errorf("Server = %+v, want %+v", cfg.Email.Server, want)
				}
				if cfg.Email.OneMail {
					t.Error("OneMail = true, want false")
				}
			},
		},
		{
			name: "server array with string port",
			patch: func(s string) string {
				return strings.Replace(s, `["smtp.gmail.com", 587, "mailer@example.com", "mailpw"]`,
					`["relay.example.com", "2525"]`, 1)
			},
			check: func(t *testing.T, cfg *Config) {
				want := ServerConfig{Host: "relay.example.com", Port: 2525}
				if cfg.Email.Server != want {
					t.Errorf("Server = %+v, want %+v", cfg.Email.Server, want)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{Format: FormatJSON}
			cfg, err := m.Read(strings.NewReader(tt.patch(initJSON)))
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/data/detectedits")
	original.Service.FSURL = "https://services.example.com/FeatureServer"
	original.Service.FSLayerNum = "2"
	original.Service.PortalURL = "https://portal.example.com/portal"
	original.Service.ServiceUser = "gisuser"
	original.Service.ServicePWFile = "/data/detectedits/servicepw.age"
	original.Email.Server = ServerConfig{Host: "smtp.example.com", Port: 587, Username: "u"}
	original.Email.OneMail = true
	original.Email.Recipients = []string{"a@example.com", "b@example.com"}
	original.Email.From = "gis@example.com"
	original.Watermark = WatermarkConfig{Type: "s3", S3Bucket: "marks", S3Key: "incidents.json"}
	original.Transport = TransportConfig{Type: "amqp", AMQPURL: "amqp://localhost", Exchange: "edits"}

	for _, format := range []Format{FormatJSON, FormatTOML} {
		var buf bytes.Buffer
		m := &Manager{Format: format}

		if err := m.Write(&buf, original); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		got, err := m.Read(&buf)
		if err != nil {
			t.Fatalf("Read() error = %v\n%s", err, buf.String())
		}

		if !reflect.DeepEqual(got, original) {
			t.Errorf("format %d: round trip mismatch\n got: %+v\nwant: %+v", format, got, original)
		}
	}
}

func TestManager_ReadTOML(t *testing.T) {
	input := `
[service]
fsURL = "https://services.example.com/FeatureServer"
fsLayerNum = 1
portalURL = "https://portal.example.com"
serviceuser = "gisuser"
servicepw = "pw"
fieldstoreport = "NAME, TYPE"
viewerMapLevel = 12

[filenames]
lasteditfile = "marks.json"

[email]
server = ["smtp.example.com", 25]
onemailflag = 0
recipients = ["ops@example.com"]
from = "gis@example.com"
subject = "s"
text = "t"
`
	m := &Manager{Format: FormatTOML}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Service.FSLayerNum != "1" {
		t.Errorf("FSLayerNum = %q, want %q", cfg.Service.FSLayerNum, "1")
	}
	if !reflect.DeepEqual([]string(cfg.Service.FieldsToReport), []string{"NAME", "TYPE"}) {
		t.Errorf("FieldsToReport = %v", cfg.Service.FieldsToReport)
	}
	if cfg.Email.Server != (ServerConfig{Host: "smtp.example.com", Port: 25}) {
		t.Errorf("Server = %+v", cfg.Email.Server)
	}
	if cfg.Email.OneMail {
		t.Error("OneMail = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Run("reports every missing key", func(t *testing.T) {
		t.Setenv(EnvServicePassword, "")
		err := (&Config{}).Validate()
		if !errors.Is(err, ErrConfigMissing) {
			t.Fatalf("Validate() error = %v, want ErrConfigMissing", err)
		}
		var mk *MissingKeysError
		if !errors.As(err, &mk) {
			t.Fatalf("Validate() error type = %T, want *MissingKeysError", err)
		}
		for _, key := range []string{"service.fsURL", "service.servicepw", "email.server", "email.text", "filenames.lasteditfile"} {
			found := false
			for _, k := range mk.Keys {
				if k == key {
					found = true
				}
			}
			if !found {
				t.Errorf("missing keys %v do not include %q", mk.Keys, key)
			}
		}
	})

	t.Run("amqp transport needs no mail server", func(t *testing.T) {
		m := &Manager{Format: FormatJSON}
		cfg, err := m.Read(strings.NewReader(initJSON))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		cfg.Email.Server = ServerConfig{}
		cfg.Transport.Type = "amqp"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("service password from environment", func(t *testing.T) {
		m := &Manager{Format: FormatJSON}
		cfg, err := m.Read(strings.NewReader(initJSON))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		cfg.Service.ServicePW = ""
		cfg.Service.ServicePWFile = ""

		t.Setenv(EnvServicePassword, "")
		if err := cfg.Validate(); !errors.Is(err, ErrConfigMissing) {
			t.Fatalf("Validate() without password error = %v, want ErrConfigMissing", err)
		}
		t.Setenv(EnvServicePassword, "from-env")
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with %s set error = %v", EnvServicePassword, err)
		}
	})

	t.Run("rejects recipient without at sign", func(t *testing.T) {
		m := &Manager{Format: FormatJSON}
		cfg, err := m.Read(strings.NewReader(initJSON))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		cfg.Email.Recipients = []string{"ops"}
		err = cfg.Validate()
		if err == nil || errors.Is(err, ErrConfigMissing) {
			t.Errorf("Validate() error = %v, want invalid recipient", err)
		}
	})

	t.Run("rejects non-numeric layer", func(t *testing.T) {
		m := &Manager{Format: FormatJSON}
		cfg, err := m.Read(strings.NewReader(initJSON))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		cfg.Service.FSLayerNum = "zero"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want error")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/detectedits")

	if cfg.LogDir != filepath.Join("/data/detectedits", "log") {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.ArtifactDir != filepath.Join("/data/detectedits", "errors") {
		t.Errorf("ArtifactDir = %q", cfg.ArtifactDir)
	}
	if cfg.Database.DataDir != filepath.Join("/data/detectedits", "db") {
		t.Errorf("Database.DataDir = %q", cfg.Database.DataDir)
	}
	if cfg.Secrets.PrivateKeyPath != filepath.Join("/data/detectedits", "keys", "detectedits.key") {
		t.Errorf("Secrets.PrivateKeyPath = %q", cfg.Secrets.PrivateKeyPath)
	}
	if cfg.Service.TimeoutSeconds != 60 {
		t.Errorf("TimeoutSeconds = %d, want 60", cfg.Service.TimeoutSeconds)
	}
}

func TestSecretsConfig_WithDefaults(t *testing.T) {
	got := SecretsConfig{}.WithDefaults("/data/detectedits")
	if got != NewConfig("/data/detectedits").Secrets {
		t.Errorf("WithDefaults() = %+v, want the NewConfig paths", got)
	}

	custom := SecretsConfig{PublicKeyPath: "/etc/dk.pub", PrivateKeyPath: "/etc/dk.key"}
	if got := custom.WithDefaults("/data/detectedits"); got != custom {
		t.Errorf("WithDefaults() = %+v, want configured paths kept", got)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"detectedits.json", "detectedits.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "sub", name)
			cfg := NewConfig(dir)

			if err := Init(path, cfg); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("config file not created: %v", err)
			}
			if err := Init(path, cfg); err == nil {
				t.Error("Init() on existing file: error = nil, want error")
			}

			got, err := ReadFromFile(path)
			if err != nil {
				t.Fatalf("ReadFromFile() error = %v", err)
			}
			if !reflect.DeepEqual(got, cfg) {
				t.Errorf("ReadFromFile() = %+v, want %+v", got, cfg)
			}
		})
	}
}

func TestReadFromFile_NotFound(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("ReadFromFile() error = nil, want error")
	}
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.json", FormatJSON},
		{"a.TOML", FormatTOML},
		{"init", FormatJSON},
	}
	for _, tt := range tests {
		if got := FormatForPath(tt.path); got != tt.want {
			t.Errorf("FormatForPath(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}
