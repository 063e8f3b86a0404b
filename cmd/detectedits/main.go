package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"detectedits-go/internal/app"
	"detectedits-go/internal/artifact"
	"detectedits-go/internal/config"
	"detectedits-go/internal/detect"
	"detectedits-go/internal/secrets"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDefaults resolves default paths and loads .env files.
func loadDefaults() (map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	if err := app.LoadEnv(defaults["base_dir"]); err != nil {
		return nil, err
	}
	return defaults, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	arts, err := artifact.NewFileWriter(defaults["artifact_dir"], detect.RealClock{})
	if err != nil {
		return nil, err
	}
	cfg, err := app.LoadConfig(defaults["config_path"], arts)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, app.Options{
		BaseDir:    defaults["base_dir"],
		Passphrase: func() (string, error) { return promptSecret("Key passphrase: ") },
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptSecret reads a line from the terminal without echo. Without a
// terminal it returns an empty string.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

var rootCmd = &cobra.Command{
	Use:          "detectedits",
	Short:        "Report features added to an ArcGIS feature layer",
	SilenceUsage: true,
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check the layer for additions and send notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Run(ctx)
		if err != nil {
			return err
		}
		if !res.State.Clean() {
			return fmt.Errorf("run %s ended in state %s", res.RunID, res.State)
		}
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration template",
	Long: "Write a configuration template to DETECTEDITS_CONFIG_PATH. The file " +
		"extension selects the format: .toml for TOML, anything else for JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := loadDefaults()
		if err != nil {
			return err
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Fill in the service and email sections before the first run.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := loadDefaults()
		if err != nil {
			return err
		}

		path := defaults["config_path"]
		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		masked := *cfg
		masked.Service.ServicePW = mask(masked.Service.ServicePW)
		masked.Email.Server.Password = mask(masked.Email.Server.Password)
		masked.Watermark.S3SecretAccessKey = mask(masked.Watermark.S3SecretAccessKey)

		fmt.Printf("Configuration from %s:\n\n", path)
		m := &config.Manager{Format: config.FormatForPath(path)}
		if err := m.Write(os.Stdout, &masked); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nWarning: %v\n", err)
		}
		return nil
	},
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// watermark command
var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Inspect or reset the stored watermark",
}

var watermarkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the creation date the next run compares against",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.ShowWatermark(cmd.Context())
		if errors.Is(err, detect.ErrWatermarkNotFound) {
			fmt.Println("No watermark stored. The next run will establish one without notifying.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Watermark: %s UTC\n", w.Display)
		fmt.Printf("Timestamp: %.6f\n", w.Timestamp)

		last, err := a.LastRun(cmd.Context())
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Printf("Last run:  #%d %s at %s (%d found, %d sent)\n",
				last.ID, last.State, last.StartedAt.Format("2006-01-02 15:04:05"), last.Records, last.Sent)
		}
		return nil
	},
}

var watermarkResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the watermark so the next run starts from the current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ResetWatermark(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Watermark reset.")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			fmt.Printf("#%d  %s  %-20s  %3d found  %3d sent  %3d failed  %s\n",
				r.ID,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.State,
				r.Records,
				r.Sent,
				r.Failed,
				r.Duration().Truncate(time.Millisecond),
			)
			if r.Error != "" {
				fmt.Printf("      %s\n", r.Error)
			}
		}
		return nil
	},
}

var historyBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Copy the run history database to FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupHistory(args[0]); err != nil {
			return err
		}
		fmt.Printf("Run history written to %s\n", args[0])
		return nil
	},
}

// secret command
var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted passwords",
}

func newKeyring() (*secrets.Keyring, error) {
	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}
	var keyPaths config.SecretsConfig
	if cfg, err := config.ReadFromFile(defaults["config_path"]); err == nil {
		keyPaths = cfg.Secrets
	}
	return secrets.NewKeyring(keyPaths.WithDefaults(defaults["base_dir"])), nil
}

var secretInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key pair that protects stored passwords",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := newKeyring()
		if err != nil {
			return err
		}

		pass, err := promptSecret("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := promptSecret("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass == "" {
			return fmt.Errorf("a passphrase is required (run from a terminal)")
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := keys.Setup(pass); err != nil {
			return err
		}
		fmt.Println("Key pair created.")
		return nil
	},
}

var secretEncryptCmd = &cobra.Command{
	Use:   "encrypt OUTFILE",
	Short: "Encrypt a password into OUTFILE",
	Long: "Encrypt a password into OUTFILE. Reference the file from " +
		"service.servicepwfile or email.server.password_file.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := newKeyring()
		if err != nil {
			return err
		}

		secret, err := promptSecret("Password to encrypt: ")
		if err != nil {
			return err
		}
		if secret == "" {
			return fmt.Errorf("nothing to encrypt (run from a terminal)")
		}

		if err := keys.SealToFile(secret, args[0]); err != nil {
			return err
		}
		fmt.Printf("Encrypted password written to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// watermark subcommands
	watermarkCmd.AddCommand(watermarkShowCmd)
	watermarkCmd.AddCommand(watermarkResetCmd)

	// secret subcommands
	secretCmd.AddCommand(secretInitCmd)
	secretCmd.AddCommand(secretEncryptCmd)

	// root commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watermarkCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	historyCmd.AddCommand(historyBackupCmd)
	rootCmd.AddCommand(secretCmd)
}
