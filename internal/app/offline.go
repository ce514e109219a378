package app

import (
	"fmt"

	"remindbot/internal/config"
	"remindbot/internal/reminders"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Offline gives one-shot CLI commands the reminder operations without
// starting the daemon. Mutations go through storage.Backend.Update, whose
// file lock or sqlite write transaction the daemon also takes, so the CLI is
// safe next to a running daemon on the file and sqlite drivers.
type Offline struct {
	Service *reminders.Service
	Config  *config.Config
	backend storage.Backend
}

func OpenOffline(cfgPath string, log logx.Logger) (*Offline, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	backend, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store := reminders.NewStore(backend, reminders.WithStoreLogger(log))
	svc := reminders.NewService(store, reminders.ServiceConfig{DefaultLocation: location(cfg)}, log, nil)
	return &Offline{Service: svc, Config: cfg, backend: backend}, nil
}

func (o *Offline) Close() error { return o.backend.Close() }
