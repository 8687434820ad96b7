package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quill/pkg/backend"
	"github.com/platinummonkey/quill/pkg/config"
	"github.com/platinummonkey/quill/pkg/store"
)

// Options holds the setup tool's flags
type Options struct {
	SeedFile string
	Promote  string
	Watch    bool
	LogLevel string
}

// quill-setup prepares a database with the privileged service URL:
// migrations, plan reference data and the first administrator.
func main() {
	opts := parseFlags()
	logger := setupLogger(opts.LogLevel)
	logger.Info("Starting quill setup")

	// Only the database settings matter here, so server-side validation
	// failures such as a missing session secret are not fatal.
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Warn("Server configuration incomplete")
	}

	url := cfg.Database.ServiceURL
	if url == "" {
		url = cfg.Database.URL
	}
	if url == "" {
		logger.Fatalf("%s or %s must be set", "QUILL_SERVICE_DATABASE_URL", config.EnvDatabaseURL)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := backend.OpenDatabase(ctx, url, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := store.RunMigrations(ctx, db, logger); err != nil {
		logger.Fatalf("Migrations failed: %v", err)
	}

	st := store.New(db, nil)
	if err := seed(ctx, st, opts.SeedFile, logger); err != nil {
		logger.Fatalf("Seeding plans failed: %v", err)
	}

	if opts.Promote != "" {
		if err := promote(ctx, st, opts.Promote, logger); err != nil {
			logger.Fatalf("Failed to promote %s: %v", opts.Promote, err)
		}
	}

	if !opts.Watch {
		logger.Info("Setup complete")
		return
	}
	if opts.SeedFile == "" {
		logger.Fatal("-watch requires -seed")
	}
	if err := watch(ctx, st, opts.SeedFile, logger); err != nil {
		logger.Fatalf("Watch failed: %v", err)
	}
	logger.Info("Setup watcher stopped")
}

func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.SeedFile, "seed", "", "YAML file listing the plans to seed (default: built-in tiers)")
	flag.StringVar(&opts.Promote, "promote", "", "Grant the administrator role to the account with this email")
	flag.BoolVar(&opts.Watch, "watch", false, "Keep running and re-seed whenever the seed file changes")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return opts
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func seed(ctx context.Context, st *store.Store, path string, logger *logrus.Logger) error {
	seeds, err := loadPlanSeeds(path)
	if err != nil {
		return err
	}
	if err := st.SeedPlans(ctx, seeds); err != nil {
		return err
	}
	logger.WithField("plans", len(seeds)).Info("Plans seeded")
	return nil
}

func promote(ctx context.Context, st *store.Store, email string, logger *logrus.Logger) error {
	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := st.GrantAdmin(ctx, user.ID); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("Administrator role granted")
	return nil
}

// watch re-seeds on every write to path until ctx is done. The parent
// directory is watched because editors often replace files by rename.
func watch(ctx context.Context, st *store.Store, path string, logger *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Infof("Watching %s for changes", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Debugf("Seed file event: %s", event)
			if err := seed(ctx, st, abs, logger); err != nil {
				logger.WithError(err).Error("Re-seeding failed, keeping previous plans")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Watcher error")
		}
	}
}
