package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/generator"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/storage/sqlitestore"
)

// app carries settings resolved from flags, SLOTCTL_* env vars and an optional config file.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "slotctl",
		Short:         "Inspect and edit doctor availability slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("doctor", "", "doctor id")
	pf.String("database-url", "", "postgres url")
	pf.String("sqlite", "", "sqlite file for local mode")
	pf.String("timezone", "UTC", "IANA zone used for calendar days")
	pf.Int("min-break", 10, "minimum break between slots in minutes")
	pf.Int("break", 10, "break inserted by generated slots in minutes")
	pf.Int("default-duration", 30, "duration of the first generated slot in minutes")
	pf.String("default-start", "09:00", "start of the first generated slot")

	root.AddCommand(
		a.showCmd(),
		a.addCmd(),
		a.fillCmd(),
		a.editCmd(),
		a.removeCmd(),
		a.copyCmd(),
		a.occupiedCmd(),
		a.locationCmd(),
		a.tokenCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("SLOTCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func (a *app) clock() (clock.Clock, error) {
	loc, err := time.LoadLocation(a.v.GetString("timezone"))
	if err != nil {
		return clock.Clock{}, fmt.Errorf("timezone: %w", err)
	}
	return clock.Clock{Location: loc}, nil
}

func (a *app) options() (manager.Options, error) {
	c, err := a.clock()
	if err != nil {
		return manager.Options{}, err
	}
	return manager.Options{
		Clock:    c,
		MinBreak: time.Duration(a.v.GetInt("min-break")) * time.Minute,
		Generator: generator.Config{
			DefaultStart:    a.v.GetString("default-start"),
			DefaultDuration: a.v.GetInt("default-duration"),
			Break:           a.v.GetInt("break"),
		},
	}, nil
}

type storeHandle struct {
	manager.Store
	sqlite *sqlitestore.Store
	close  func()
}

func (a *app) openStore(ctx context.Context) (*storeHandle, error) {
	c, err := a.clock()
	if err != nil {
		return nil, err
	}
	if url := a.v.GetString("database-url"); url != "" {
		pool, err := db.Open(ctx, url, db.Options{MaxConns: 4})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := storage.NewSlotRepository(pool, outbox.NewRepository(), c)
		return &storeHandle{Store: repo, close: pool.Close}, nil
	}
	if path := a.v.GetString("sqlite"); path != "" {
		s, err := sqlitestore.Open(ctx, path, c)
		if err != nil {
			return nil, err
		}
		return &storeHandle{Store: s, sqlite: s, close: func() { _ = s.Close() }}, nil
	}
	return nil, errors.New("one of --database-url or --sqlite is required")
}

func (a *app) principal() (auth.Principal, error) {
	id := strings.TrimSpace(a.v.GetString("doctor"))
	if id == "" {
		return auth.Principal{}, errors.New("--doctor is required")
	}
	return auth.Principal{UserID: id, Role: auth.RoleDoctor}, nil
}

// session opens the store and selects date for the configured doctor.
func (a *app) session(ctx context.Context, date string) (*manager.Manager, func(), error) {
	p, err := a.principal()
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.options()
	if err != nil {
		return nil, nil, err
	}
	h, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	m := manager.New(h, p, opts)
	if err := m.SelectDate(ctx, date); err != nil {
		h.close()
		return nil, nil, err
	}
	return m, h.close, nil
}
