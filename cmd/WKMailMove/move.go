package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/Warky-Devs/WkMailMove/internal/archive"
	"github.com/Warky-Devs/WkMailMove/internal/config"
	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
	"github.com/Warky-Devs/WkMailMove/internal/journal"
	"github.com/Warky-Devs/WkMailMove/internal/lock"
	"github.com/Warky-Devs/WkMailMove/internal/logger"
	"github.com/Warky-Devs/WkMailMove/internal/transfer"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	path, err := config.ResolvePath(c.String("config"))
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func logLevel(c *cli.Context, cfg *config.Config) string {
	if c.Bool("verbose") {
		return "debug"
	}
	if c.IsSet("log-level") {
		return config.Unquote(c.String("log-level"))
	}
	return cfg.Log.Level
}

func runMove(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(moverrors.Startup("load configuration", err), 1)
	}

	log := logger.NewAppLogger(&logger.Config{
		LogLevel: logLevel(c, cfg),
		Path:     cfg.Log.Path,
		Truncate: true,
	})
	log.InitLogger()
	defer log.Sync() //nolint:errcheck

	lk, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		log.Errorf("%v", err)
		return cli.Exit(moverrors.Startup("lock", err), 1)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warnf("Releasing %s: %v", lk.Path(), err)
		}
	}()

	source, target, err := cfg.Endpoints(config.NewCredentials(cfg.Accounts, config.OpenKeyring))
	if err != nil {
		log.Errorf("%v", err)
		return cli.Exit(moverrors.Startup("credentials", err), 1)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	opts := []transfer.Option{}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Warnf("Journal disabled: %v", err)
		} else {
			defer j.Close()
			opts = append(opts, transfer.WithRecorder(j))
		}
	}
	archiver, closeArchive := openArchive(ctx, cfg.Archive, log)
	defer closeArchive()
	if archiver != nil {
		opts = append(opts, transfer.WithArchiver(archiver))
	}

	engine := transfer.NewEngine(source, target, log, opts...)
	guard := engine.Guard()
	guard.Watch(cancel)
	defer guard.Stop()

	if _, err := engine.Run(ctx); err != nil {
		if moverrors.IsStartup(err) {
			log.Errorf("%v", err)
			return cli.Exit(err, 1)
		}
		log.Warnf("%v", err)
	}
	return nil
}

// openArchive returns a nil archiver when no archive is configured or none
// could be opened; archiving is best effort.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, log logger.Logger) (transfer.Archiver, func()) {
	var (
		chain   archive.Chain
		closers []func() error
	)
	if cfg.Maildir != "" {
		chain = append(chain, archive.NewMaildir(cfg.Maildir))
	}
	if cfg.SFTP.Enabled() {
		s, err := archive.DialSFTP(ctx, cfg.SFTP)
		if err != nil {
			log.Warnf("SFTP archive disabled: %v", err)
		} else {
			chain = append(chain, s)
			closers = append(closers, s.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warnf("Closing archive: %v", err)
			}
		}
	}
	if len(chain) == 0 {
		return nil, closeAll
	}
	return chain, closeAll
}
