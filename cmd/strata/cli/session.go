package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/majorcontext/strata/internal/backup"
	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/credential/keyring"
	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/metadata"
	"github.com/majorcontext/strata/internal/secrets"
	"github.com/majorcontext/strata/internal/storage"
	"github.com/majorcontext/strata/internal/ui"
)

// session is everything one command needs to act on the configured
// repository.
type session struct {
	cfg   *config.Config
	repo  *storage.RepoStore
	store *metadata.Store
	orch  *backup.Orchestrator
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Debug("closing metadata store", "error", err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Locate(configPath))
}

// openSession loads strata.yaml, resolves the password and opens the
// metadata store.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	globalCfg, _ := config.LoadGlobal()

	creds, err := resolveCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewRestic(engine.Config{
		Binary:      config.ResticBinary(cfg, globalCfg),
		Repository:  cfg.Repository,
		Credentials: creds,
		ExtraEnv:    cfg.Restic.ExtraEnv,
	})
	if err != nil {
		return nil, err
	}

	repo, err := storage.NewRepoStore(config.GlobalConfigDir(), cfg.Name)
	if err != nil {
		return nil, err
	}
	store, err := metadata.Open(repo.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	log.Debug("session opened", "repository", cfg.Repository, "name", cfg.Name, "credentials", creds)

	return &session{
		cfg:   cfg,
		repo:  repo,
		store: store,
		orch:  backup.New(cfg, eng, store, repo),
	}, nil
}

// resolveCredentials turns the configured password source into engine
// credentials. A password file is handed to restic by path and never read
// here.
func resolveCredentials(ctx context.Context, cfg *config.Config) (engine.Credentials, error) {
	switch {
	case cfg.PasswordFile != "":
		if _, err := os.Stat(cfg.PasswordFile); err != nil {
			return engine.Credentials{}, fmt.Errorf("password_file: %w", err)
		}
		return engine.Credentials{PasswordFile: cfg.PasswordFile}, nil
	case cfg.KeychainAccount != "":
		pw, err := keyring.New().Retrieve(cfg.KeychainAccount)
		if err != nil {
			return engine.Credentials{}, err
		}
		return engine.Credentials{Password: pw}, nil
	case cfg.PasswordRef != "":
		pw, err := secrets.Default().Resolve(ctx, cfg.PasswordRef)
		if err != nil {
			return engine.Credentials{}, fmt.Errorf("resolving password_ref: %w", err)
		}
		if pw == "" {
			return engine.Credentials{}, fmt.Errorf("password_ref %s resolved to an empty password", cfg.PasswordRef)
		}
		return engine.Credentials{Password: pw}, nil
	}
	return engine.Credentials{}, errors.New("no password source configured")
}

// signalContext is cancelled on SIGINT or SIGTERM so restic is
// interrupted cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// partialWarning reports a snapshot that exists without metadata. It
// returns true when err was handled.
func partialWarning(err error) bool {
	var rn *backup.ReconciliationNeededError
	if !errors.As(err, &rn) {
		return false
	}
	ui.Warnf("snapshot %s was created but its metadata could not be saved: %v", rn.SnapshotID, rn.Err)
	ui.Info("  The data is backed up; strata log lists it as untracked.")
	return true
}
