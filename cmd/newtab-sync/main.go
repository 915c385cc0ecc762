package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/JunerLee/new-tab/internal/app"
	"github.com/JunerLee/new-tab/internal/config"
	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/identity"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a wired App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// loadConfig reads the config file for commands that mutate it.
func loadConfig() (string, *config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return "", nil, fmt.Errorf("reading config: %w", err)
	}

	return defaults["config_path"], cfg, nil
}

var rootCmd = &cobra.Command{
	Use:     "newtab-sync",
	Short:   "Sync new-tab settings across devices",
	Version: app.Version,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		seal, _ := cmd.Flags().GetBool("seal")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		// Create the device identity up front so the id is visible before
		// the first sync.
		device, err := identity.LoadOrCreate(filepath.Join(cfg.BaseDir, "device.json"), engine.UUIDGenerator{})
		if err != nil {
			return fmt.Errorf("creating device identity: %w", err)
		}

		if seal {
			sealer := config.NewSealer(cfg.Seal)
			if err := sealer.Setup(); err != nil {
				return fmt.Errorf("setting up credential sealing: %w", err)
			}
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", device.ID)
		fmt.Printf("Device:     %s\n", device.Name)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		if seal {
			fmt.Printf("Seal key:   %s\n", cfg.Seal.PublicKeyPath)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("State file: %s\n", cfg.StatePath)
		fmt.Printf("Sync:       enabled=%v auto=%v interval=%dm resolution=%s retries=%d\n",
			cfg.Sync.Enabled, cfg.Sync.AutoSync, cfg.Sync.IntervalMinutes,
			cfg.Sync.ConflictResolution, cfg.Sync.RetryAttempts)
		fmt.Printf("History:    %s\n", cfg.History.Type)

		sealer := config.NewSealer(cfg.Seal)
		fmt.Printf("Sealing:    configured=%v\n", sealer.IsConfigured())

		if len(cfg.Providers) == 0 {
			fmt.Println("\nNo providers configured.")
			return nil
		}
		fmt.Println("\nProviders:")
		for _, p := range cfg.Providers {
			active := " "
			if p.Name == cfg.Sync.ActiveProvider {
				active = "*"
			}
			fmt.Printf("  %s %-15s %-8s %s\n", active, p.Name, p.Type, providerTarget(p))
		}
		return nil
	},
}

var configSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Set up credential sealing and seal stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sealer := config.NewSealer(cfg.Seal)
		if !sealer.IsConfigured() {
			if err := sealer.Setup(); err != nil {
				return fmt.Errorf("setting up credential sealing: %w", err)
			}
			fmt.Printf("Generated seal key pair under %s\n", filepath.Dir(cfg.Seal.PublicKeyPath))
		}

		sealed := 0
		for i := range cfg.Providers {
			n, err := sealProviderCredentials(cfg, &cfg.Providers[i])
			if err != nil {
				return err
			}
			sealed += n
		}
		if sealed > 0 {
			if err := config.Save(path, cfg); err != nil {
				return err
			}
		}
		fmt.Printf("Sealed %d credential(s)\n", sealed)
		return nil
	},
}

func providerTarget(p config.ProviderConfig) string {
	switch p.Type {
	case "webdav":
		return p.URL
	case "local":
		return p.Dir
	case "s3":
		return "s3://" + p.S3Bucket
	}
	return ""
}

// sealProviderCredentials seals any plaintext credentials on p in place and
// returns how many values were sealed. A config without seal keys is left
// untouched.
func sealProviderCredentials(cfg *config.Config, p *config.ProviderConfig) (int, error) {
	sealer := config.NewSealer(cfg.Seal)
	if !sealer.IsConfigured() {
		return 0, nil
	}

	sealed := 0
	for _, v := range []*string{&p.Password, &p.Token, &p.S3SecretAccessKey} {
		if *v == "" || config.IsSealed(*v) {
			continue
		}
		s, err := sealer.Seal(*v)
		if err != nil {
			return sealed, fmt.Errorf("sealing credential: %w", err)
		}
		*v = s
		sealed++
	}
	return sealed, nil
}

func promptSecret(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("%s required (stdin is not a terminal)", label)
	}
	fmt.Printf("%s: ", label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(secret), nil
}

// addProvider appends p to the config, making it active when requested or
// when it is the first provider, and saves the file.
func addProvider(path string, cfg *config.Config, p config.ProviderConfig, use bool) error {
	if _, exists := cfg.FindProvider(p.Name); exists {
		return fmt.Errorf("provider %q already exists", p.Name)
	}
	if _, err := sealProviderCredentials(cfg, &p); err != nil {
		return err
	}

	cfg.Providers = append(cfg.Providers, p)
	if use || cfg.Sync.ActiveProvider == "" {
		cfg.Sync.ActiveProvider = p.Name
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	active := ""
	if cfg.Sync.ActiveProvider == p.Name {
		active = " (active)"
	}
	fmt.Printf("Added %s provider %q%s\n", p.Type, p.Name, active)
	return nil
}

// provider command
var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage sync providers",
}

var providerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a sync provider",
}

var providerAddWebdavCmd = &cobra.Command{
	Use:   "webdav NAME",
	Short: "Add a WebDAV provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		url, _ := cmd.Flags().GetString("url")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		token, _ := cmd.Flags().GetString("token")
		folder, _ := cmd.Flags().GetString("folder")
		timeout, _ := cmd.Flags().GetInt("timeout")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		retryDelay, _ := cmd.Flags().GetInt("retry-delay")
		compress, _ := cmd.Flags().GetBool("compress")
		use, _ := cmd.Flags().GetBool("use")

		if username != "" && password == "" && token == "" {
			password, err = promptSecret("Password")
			if err != nil {
				return err
			}
		}

		return addProvider(path, cfg, config.ProviderConfig{
			Type:              "webdav",
			Name:              args[0],
			URL:               url,
			Username:          username,
			Password:          password,
			Token:             token,
			Folder:            folder,
			TimeoutSeconds:    timeout,
			MaxRetries:        maxRetries,
			RetryDelaySeconds: retryDelay,
			Compress:          compress,
		}, use)
	},
}

var providerAddLocalCmd = &cobra.Command{
	Use:   "local NAME",
	Short: "Add a local directory provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("dir")
		compress, _ := cmd.Flags().GetBool("compress")
		use, _ := cmd.Flags().GetBool("use")

		absDir, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolving dir: %w", err)
		}

		return addProvider(path, cfg, config.ProviderConfig{
			Type:     "local",
			Name:     args[0],
			Dir:      absDir,
			Compress: compress,
		}, use)
	},
}

var providerAddS3Cmd = &cobra.Command{
	Use:   "s3 NAME",
	Short: "Add an S3 provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		bucket, _ := cmd.Flags().GetString("bucket")
		prefix, _ := cmd.Flags().GetString("prefix")
		region, _ := cmd.Flags().GetString("region")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		accessKey, _ := cmd.Flags().GetString("access-key-id")
		secretKey, _ := cmd.Flags().GetString("secret-access-key")
		pathStyle, _ := cmd.Flags().GetBool("path-style")
		compress, _ := cmd.Flags().GetBool("compress")
		use, _ := cmd.Flags().GetBool("use")

		if accessKey != "" && secretKey == "" {
			secretKey, err = promptSecret("Secret access key")
			if err != nil {
				return err
			}
		}

		return addProvider(path, cfg, config.ProviderConfig{
			Type:              "s3",
			Name:              args[0],
			S3Bucket:          bucket,
			S3Prefix:          prefix,
			S3Region:          region,
			S3Endpoint:        endpoint,
			S3AccessKeyID:     accessKey,
			S3SecretAccessKey: secretKey,
			S3PathStyle:       pathStyle,
			Compress:          compress,
		}, use)
	},
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if len(cfg.Providers) == 0 {
			fmt.Println("No providers configured.")
			return nil
		}
		for _, p := range cfg.Providers {
			active := " "
			if p.Name == cfg.Sync.ActiveProvider {
				active = "*"
			}
			fmt.Printf("%s %-15s %-8s %s\n", active, p.Name, p.Type, providerTarget(p))
		}
		return nil
	},
}

var providerUseCmd = &cobra.Command{
	Use:   "use NAME",
	Short: "Select the active provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if _, ok := cfg.FindProvider(args[0]); !ok {
			return fmt.Errorf("provider %q is not configured", args[0])
		}
		cfg.Sync.ActiveProvider = args[0]
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		fmt.Printf("Active provider: %s\n", args[0])
		return nil
	},
}

var providerRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		kept := cfg.Providers[:0]
		found := false
		for _, p := range cfg.Providers {
			if p.Name == args[0] {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		if !found {
			return fmt.Errorf("provider %q is not configured", args[0])
		}
		cfg.Providers = kept
		if cfg.Sync.ActiveProvider == args[0] {
			cfg.Sync.ActiveProvider = ""
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		fmt.Printf("Removed provider %q\n", args[0])
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolve, _ := cmd.Flags().GetString("resolve")
		if resolve != "" && resolve != "latest" && resolve != "merge" {
			return fmt.Errorf("invalid --resolve %q: must be latest or merge", resolve)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		events, cancel := a.Subscribe()

		var bar *pb.ProgressBar
		if term.IsTerminal(int(os.Stdout.Fd())) {
			bar = pb.New(100)
			bar.SetWriter(os.Stdout)
			bar.Start()
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events {
				if ev.Type == engine.EventSyncProgress && bar != nil {
					bar.SetCurrent(int64(ev.Progress))
				}
			}
		}()

		res := a.Sync(cmd.Context(), resolve)
		cancel()
		<-done
		if bar != nil {
			bar.Finish()
		}

		if !res.Success {
			return fmt.Errorf("sync failed: %s", res.Message)
		}
		fmt.Println(res.Message)
		for _, c := range res.Conflicts {
			if c.Resolution == "" {
				fmt.Printf("  conflict: %s (unresolved)\n", c.Field)
			} else {
				fmt.Printf("  conflict: %s -> %s\n", c.Field, c.Resolution)
			}
		}
		if res.Pending() {
			fmt.Println("Re-run with --resolve latest or --resolve merge to settle the conflicts.")
		}
		return nil
	},
}

// auto command
var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Run recurring sync until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Auto-sync running; press Ctrl-C to stop.")
		if err := a.RunAuto(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Auto-sync stopped.")
		return nil
	},
}

// test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the connection to the active provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pcfg, err := cfg.Active()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.TestConnection(cmd.Context()); err != nil {
			return fmt.Errorf("connection to %q failed: %w", pcfg.Name, err)
		}
		fmt.Printf("Connection to %q OK\n", pcfg.Name)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device identity and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		device := a.Device()
		fmt.Printf("Device ID:   %s\n", device.ID)
		fmt.Printf("Device:      %s\n", device.Name)
		if pcfg, err := cfg.Active(); err == nil {
			fmt.Printf("Provider:    %s (%s)\n", pcfg.Name, pcfg.Type)
		} else {
			fmt.Println("Provider:    none")
		}
		fmt.Printf("Sync:        enabled=%v auto=%v interval=%dm resolution=%s\n",
			cfg.Sync.Enabled, cfg.Sync.AutoSync, cfg.Sync.IntervalMinutes, cfg.Sync.ConflictResolution)

		stats, err := a.Stats()
		if err != nil {
			return err
		}
		if stats.TotalOps == 0 {
			fmt.Println("Last sync:   never")
			return nil
		}
		fmt.Printf("Last op:     %s\n", stats.LastOp.Format("2006-01-02 15:04:05"))
		fmt.Printf("Operations:  %d (%.0f%% ok)\n", stats.TotalOps, stats.SuccessRate*100)
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export settings to a portable file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.Export(cmd.Context())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		target := fmt.Sprintf("newtab-settings-%s.json", time.Now().Format("2006-01-02"))
		if len(args) > 0 {
			target = args[0]
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("writing export file: %w", err)
		}

		fmt.Printf("Exported %d bytes to %s\n", len(data), target)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import settings from an exported file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Import(data)
		if !res.Success {
			return fmt.Errorf("import failed: %s", res.Message)
		}
		fmt.Println(res.Message)
		return nil
	},
}

// devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices that have synced to the active provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No devices have synced yet.")
			return nil
		}

		self := a.Device().ID
		for _, id := range ids {
			marker := ""
			if id == self {
				marker = "  [this device]"
			}
			fmt.Printf("%s%s\n", id, marker)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.History()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}

		for _, e := range entries {
			status := "ok"
			if !e.Success {
				status = "failed"
			}
			extra := ""
			if e.Conflicts > 0 {
				extra = fmt.Sprintf("  conflicts:%d", e.Conflicts)
			}
			fmt.Printf("%s  %-8s  %-12s  %-6s  %s%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Action, e.Provider, status, e.Detail, extra)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear sync operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ClearHistory(); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sync statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Operations:   %d\n", s.TotalOps)
		fmt.Printf("Success rate: %.0f%%\n", s.SuccessRate*100)
		if !s.LastOp.IsZero() {
			fmt.Printf("Last op:      %s\n", s.LastOp.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Transferred:  %d bytes\n", s.TotalBytes)
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old snapshots from the active provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Deleted %d old snapshot(s)\n", n)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("seal", false, "Also generate the credential seal key pair")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSealCmd)

	// provider subcommands
	providerCmd.AddCommand(providerAddCmd)
	providerAddCmd.AddCommand(providerAddWebdavCmd)
	providerAddWebdavCmd.Flags().String("url", "", "WebDAV server URL")
	providerAddWebdavCmd.MarkFlagRequired("url")
	providerAddWebdavCmd.Flags().String("username", "", "Basic auth username")
	providerAddWebdavCmd.Flags().String("password", "", "Basic auth password (prompted when omitted)")
	providerAddWebdavCmd.Flags().String("token", "", "Bearer token")
	providerAddWebdavCmd.Flags().String("folder", "", "Remote sync folder (default /newTab)")
	providerAddWebdavCmd.Flags().Int("timeout", 0, "Request timeout in seconds")
	providerAddWebdavCmd.Flags().Int("max-retries", 0, "Retry attempts for transient failures")
	providerAddWebdavCmd.Flags().Int("retry-delay", 0, "Base retry delay in seconds")
	providerAddWebdavCmd.Flags().Bool("compress", false, "Gzip snapshots before upload")
	providerAddWebdavCmd.Flags().Bool("use", false, "Make this the active provider")

	providerAddCmd.AddCommand(providerAddLocalCmd)
	providerAddLocalCmd.Flags().String("dir", "", "Directory to sync into")
	providerAddLocalCmd.MarkFlagRequired("dir")
	providerAddLocalCmd.Flags().Bool("compress", false, "Gzip snapshots before writing")
	providerAddLocalCmd.Flags().Bool("use", false, "Make this the active provider")

	providerAddCmd.AddCommand(providerAddS3Cmd)
	providerAddS3Cmd.Flags().String("bucket", "", "S3 bucket name")
	providerAddS3Cmd.MarkFlagRequired("bucket")
	providerAddS3Cmd.Flags().String("prefix", "", "Key prefix inside the bucket")
	providerAddS3Cmd.Flags().String("region", "", "AWS region")
	providerAddS3Cmd.Flags().String("endpoint", "", "Custom S3 endpoint (for S3-compatible stores)")
	providerAddS3Cmd.Flags().String("access-key-id", "", "Static access key id")
	providerAddS3Cmd.Flags().String("secret-access-key", "", "Static secret key (prompted when omitted)")
	providerAddS3Cmd.Flags().Bool("path-style", false, "Use path-style addressing")
	providerAddS3Cmd.Flags().Bool("compress", false, "Gzip snapshots before upload")
	providerAddS3Cmd.Flags().Bool("use", false, "Make this the active provider")

	providerCmd.AddCommand(providerListCmd)
	providerCmd.AddCommand(providerUseCmd)
	providerCmd.AddCommand(providerRemoveCmd)

	// history subcommands
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// sync flags
	syncCmd.Flags().String("resolve", "", "Override conflict resolution for this round (latest or merge)")

	// cleanup flags
	cleanupCmd.Flags().Int("days", 30, "Delete snapshots older than this many days")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(autoCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
}
