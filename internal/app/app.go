package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"detectedits-go/internal/artifact"
	"detectedits-go/internal/config"
	"detectedits-go/internal/database"
	"detectedits-go/internal/detect"
	"detectedits-go/internal/featureservice"
	"detectedits-go/internal/metrics"
	"detectedits-go/internal/secrets"
	"detectedits-go/internal/transport"
	"detectedits-go/internal/watermark"
)

// Options replaces collaborators NewApp would otherwise build from config.
// Zero values select the real implementations.
type Options struct {
	// BaseDir anchors relative paths in the config (lasteditfile, password files).
	BaseDir string
	Stdout  io.Writer

	Service   detect.FeatureService
	Transport transport.Transport
	Clock     detect.Clock
	IDGen     detect.IDGenerator

	// Passphrase is asked for the key passphrase when an encrypted password
	// file must be opened and DETECTEDITS_PASSPHRASE is not set.
	Passphrase func() (string, error)
}

// App is the application layer between the CLI and the detection pipeline.
// It constructs all dependencies from config and releases them on Close.
type App struct {
	cfg       *config.Config
	opts      Options
	runID     string
	runs      int
	clock     detect.Clock
	idgen     detect.IDGenerator
	db        database.Database
	store     watermark.Store
	artifacts detect.ArtifactWriter
	keys      *secrets.Keyring
	unlocked  *secrets.Unlocked
	logger    *slog.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	clock := opts.Clock
	if clock == nil {
		clock = detect.RealClock{}
	}
	idgen := opts.IDGen
	if idgen == nil {
		idgen = detect.UUIDGenerator{}
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(opts.BaseDir, "log")
	}
	artifactDir := cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = filepath.Join(opts.BaseDir, "errors")
	}
	dbCfg := cfg.Database
	if dbCfg.DataDir == "" {
		dbCfg.DataDir = filepath.Join(opts.BaseDir, "db")
	}

	arts, err := artifact.NewFileWriter(artifactDir, clock)
	if err != nil {
		return nil, fmt.Errorf("creating artifact writer: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration check failed: %w", err)
	}

	store, err := watermark.NewStoreFromConfig(ctx, cfg, opts.BaseDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating watermark store: %w", err)
	}

	runID := idgen.New()
	logger, logFile, err := newLogger(logDir, runID, opts.Stdout)
	if err != nil {
		store.Close()
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:       cfg,
		opts:      opts,
		runID:     runID,
		clock:     clock,
		idgen:     idgen,
		db:        db,
		store:     store,
		artifacts: arts,
		keys:      secrets.NewKeyring(cfg.Secrets.WithDefaults(opts.BaseDir)),
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// Run executes one detection pass, then records it in the run history and
// pushes its metrics. History and metrics failures are logged only.
func (a *App) Run(ctx context.Context) (*detect.RunResult, error) {
	if a.runs > 0 {
		a.runID = a.idgen.New()
		if h, ok := a.logger.Handler().(*runHandler); ok {
			a.logger = slog.New(h.withRunID(a.runID))
		}
	}
	a.runs++

	runCfg, err := BuildRunConfig(a.cfg, a.referer())
	if err != nil {
		return nil, err
	}
	runCfg.Password, err = a.resolvePassword(EnvServicePassword, a.cfg.Service.ServicePW, a.cfg.Service.ServicePWFile)
	if err != nil {
		return nil, fmt.Errorf("resolving service password: %w", err)
	}

	tr := a.opts.Transport
	if tr == nil {
		tr, err = a.newTransport()
		if err != nil {
			return nil, err
		}
		defer tr.Close()
	}

	log := &slogAdapter{l: a.logger}
	svc := a.opts.Service
	if svc == nil {
		svc = featureservice.NewClient(time.Duration(a.cfg.Service.TimeoutSeconds)*time.Second, log)
	}

	p := detect.NewPipeline(runCfg, svc, a.store, tr, a.artifacts, log, a.clock, fixedID(a.runID))
	res, runErr := p.Run(ctx)

	// Record even when the run was cancelled.
	a.record(context.WithoutCancel(ctx), runCfg.LayerURL, res)
	return res, runErr
}

func (a *App) newTransport() (transport.Transport, error) {
	var smtpPassword string
	server := a.cfg.Email.Server
	if (a.cfg.Transport.Type == "" || a.cfg.Transport.Type == "smtp") && server.Username != "" {
		var err error
		smtpPassword, err = a.resolvePassword(EnvSMTPPassword, server.Password, server.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("resolving smtp password: %w", err)
		}
	}
	tr, err := transport.NewTransportFromConfig(a.cfg, smtpPassword)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	return tr, nil
}

func (a *App) record(ctx context.Context, layerURL string, res *detect.RunResult) {
	if _, err := a.db.RecordRun(ctx, runRecord(layerURL, res)); err != nil {
		a.logger.Warn("recording run history", "error", err)
	}

	rec := metrics.NewRecorder()
	rec.Observe(res)
	if url := a.cfg.Metrics.Pushgateway; url != "" {
		if err := rec.Push(ctx, url, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn("pushing metrics", "error", err)
		}
	}
}

// resolvePassword picks, in order: the environment variable, the plaintext
// config value, the age-encrypted file.
func (a *App) resolvePassword(envKey, plain, file string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if plain != "" || file == "" {
		return plain, nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(a.opts.BaseDir, file)
	}
	u, err := a.unlock()
	if err != nil {
		return "", err
	}
	return u.OpenFile(file)
}

func (a *App) unlock() (*secrets.Unlocked, error) {
	if a.unlocked != nil {
		return a.unlocked, nil
	}
	passphrase := os.Getenv(EnvPassphrase)
	if passphrase == "" && a.opts.Passphrase != nil {
		var err error
		if passphrase, err = a.opts.Passphrase(); err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
	}
	if passphrase == "" {
		return nil, fmt.Errorf("an encrypted password file is configured but %s is not set", EnvPassphrase)
	}
	u, err := a.keys.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	a.unlocked = u
	return u, nil
}

func (a *App) referer() string {
	if a.cfg.Service.Referer != "" {
		return a.cfg.Service.Referer
	}
	return hostIP()
}

// ShowWatermark returns the stored watermark of the configured layer.
func (a *App) ShowWatermark(ctx context.Context) (detect.Watermark, error) {
	id, err := a.cfg.Service.FSLayerNum.Int()
	if err != nil {
		return detect.Watermark{}, err
	}
	return a.store.Read(ctx, id)
}

// ResetWatermark forgets the configured layer's watermark. The next run
// bootstraps again without notifying.
func (a *App) ResetWatermark(ctx context.Context) error {
	id, err := a.cfg.Service.FSLayerNum.Int()
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("resetting watermark: %w", err)
	}
	a.logger.Info("watermark reset", "layer", a.cfg.LayerURL())
	return nil
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]database.Run, error) {
	return a.db.ListRuns(ctx, limit)
}

// LastRun returns the newest recorded run of the configured layer, or nil.
func (a *App) LastRun(ctx context.Context) (*database.Run, error) {
	return a.db.LastRun(ctx, a.cfg.LayerURL())
}

// BackupHistory copies the run history database to destPath.
func (a *App) BackupHistory(destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup target %s already exists", destPath)
	}
	if err := a.db.BackupTo(destPath); err != nil {
		return err
	}
	a.logger.Info("run history backed up", "path", destPath)
	return nil
}

// Close releases every resource, returning the first error.
func (a *App) Close() error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing watermark store: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// BuildRunConfig derives the per-run settings from cfg. An http portal URL
// is upgraded to https.
func BuildRunConfig(cfg *config.Config, referer string) (detect.RunConfig, error) {
	layerID, err := cfg.Service.FSLayerNum.Int()
	if err != nil {
		return detect.RunConfig{}, err
	}
	portal := PortalURL(cfg.Service.PortalURL)
	layerURL := cfg.LayerURL()

	return detect.RunConfig{
		LayerURL:       layerURL,
		LayerID:        layerID,
		SharingURL:     portal + "/sharing",
		Username:       cfg.Service.ServiceUser,
		Password:       cfg.Service.ServicePW,
		Referer:        referer,
		FieldsToReport: []string(cfg.Service.FieldsToReport),
		MapURL: fmt.Sprintf("%s/home/webmap/viewer.html?url=%s&level=%d&center=",
			portal, layerURL, cfg.Service.ViewerMapLevel),
		MailText:   cfg.Email.Text,
		From:       cfg.Email.From,
		Recipients: cfg.Email.Recipients,
		Subject:    cfg.Email.Subject,
		OneMail:    bool(cfg.Email.OneMail),
	}, nil
}

// PortalURL normalizes a portal base URL: no trailing slash, and a scheme
// whose fifth character is ':' (http) becomes https.
func PortalURL(raw string) string {
	u := strings.TrimSuffix(raw, "/")
	if len(u) > 4 && u[4] == ':' {
		u = "https" + u[4:]
	}
	return u
}

// hostIP returns an IPv4 address of this host, used as the token referer.
func hostIP() string {
	name, err := os.Hostname()
	if err != nil {
		return "127.0.0.1"
	}
	addrs, err := net.LookupHost(name)
	if err != nil || len(addrs) == 0 {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return addr
		}
	}
	return addrs[0]
}

// LoadConfig reads and validates the config at path. Any failure is also
// written as an error artifact, since a job without config has nowhere else
// to report.
func LoadConfig(path string, artifacts detect.ArtifactWriter) (*config.Config, error) {
	cfg, err := config.ReadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		artifacts.Write(fmt.Sprintf("Configuration file(%s) does not exist . . . Returning", path))
		return nil, fmt.Errorf("%w: %s does not exist", config.ErrConfigMissing, path)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		artifacts.Write(err.Error())
		return nil, err
	}
	return cfg, nil
}
