// Package main runs the tillsync daemon: the local SQLite store, durable
// retry queue, connectivity monitor, background scheduler, and the
// localhost API the register app talks to.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/tillsync-io/tillsync/internal/config"
	"github.com/tillsync-io/tillsync/internal/connectivity"
	"github.com/tillsync-io/tillsync/internal/crypto"
	"github.com/tillsync-io/tillsync/internal/db"
	"github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/events"
	"github.com/tillsync-io/tillsync/internal/logging"
	"github.com/tillsync-io/tillsync/internal/models"
	"github.com/tillsync-io/tillsync/internal/remote"
	"github.com/tillsync-io/tillsync/internal/server"
	syncpkg "github.com/tillsync-io/tillsync/internal/sync"
	"github.com/tillsync-io/tillsync/internal/sync/queue"
	"github.com/tillsync-io/tillsync/internal/sync/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Error("Daemon exited", err, nil)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(os.Stderr, logging.LogLevel(strings.ToUpper(cfg.LogLevel)))

	machineID := cfg.MachineID
	if machineID == "" {
		if host, hostErr := os.Hostname(); hostErr == nil {
			machineID = host
		}
	}

	logging.Info("tillsync daemon starting", map[string]interface{}{
		"db_path":     cfg.DBPath,
		"listen_addr": cfg.ListenAddr,
	})

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB); err != nil {
		return err
	}
	repo := db.NewRepository(database.DB)

	bus := events.NewBus()
	defer bus.Close()

	// The backend client and prober start unconfigured and pick up the
	// sealed credentials when a previous run stored them.
	client := remote.NewClient(&remote.Config{Timeout: cfg.RequestTimeout})
	prober := connectivity.NewHTTPProber("", cfg.ProbeTimeout)
	if cred, credErr := restoreCredentials(repo, machineID); credErr != nil {
		logging.Warn("Stored credentials unusable, starting unconfigured", map[string]interface{}{
			"error": credErr.Error(),
		})
	} else if cred != nil {
		client.Configure(cred.baseURL, cred.apiKey, cred.apiSecret)
		prober.SetBaseURL(cred.baseURL)
		logging.Info("Backend restored from stored credentials", map[string]interface{}{
			"base_url": cred.baseURL,
		})
	}

	monitor := connectivity.NewMonitor(prober, &connectivity.Config{
		Interval: cfg.ProbeInterval,
	})

	q := queue.NewQueue(repo, remote.NewExecutor(client), monitor, bus, &queue.Config{
		Capacity:    cfg.QueueCapacity,
		BatchSize:   cfg.QueueBatchSize,
		BatchPause:  cfg.QueueBatchPause,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxAttempts: cfg.MaxAttempts,
	})

	orch := syncpkg.NewOrchestrator(repo, q, client, monitor, bus, &syncpkg.Config{
		CriticalSaleThreshold: cfg.CriticalSaleThreshold,
	})

	sched := scheduler.NewScheduler(orch, q, monitor, &scheduler.Config{
		SyncInterval:    cfg.SyncInterval,
		CleanupInterval: cfg.CleanupInterval,
		CleanupMaxAge:   cfg.CleanupMaxAge,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connectivity transitions go onto the bus so WebSocket clients see
	// the register go on and off line.
	changes, cancelChanges := monitor.Subscribe(16)
	defer cancelChanges()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				bus.Emit(events.TypeConnectivityChanged, change)
			}
		}
	}()

	// A sale delivered by the queue still has its receipt row flagged
	// unsynced; close the loop here.
	engineEvents, cancelEvents := bus.Subscribe(64)
	defer cancelEvents()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-engineEvents:
				if !ok {
					return
				}
				if evt.Type != events.TypeItemSucceeded {
					continue
				}
				if item, itemOk := evt.Data.(*models.QueueItem); itemOk {
					orch.MarkSaleDelivered(item)
				}
			}
		}
	}()

	monitor.Start(ctx)
	sched.Start(ctx)

	srv := server.NewServer(orch, q, monitor, sched, repo, &backendLink{client: client, prober: prober}, bus, &server.Config{
		Addr:      cfg.ListenAddr,
		MachineID: machineID,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logging.Info("Signal received, shutting down", map[string]interface{}{
			"signal": sig.String(),
		})
	case runErr = <-serveErr:
		if runErr != nil {
			logging.Error("API server failed", runErr, nil)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("API server shutdown failed", err, nil)
	}

	sched.Stop()
	monitor.Stop()
	cancel()

	logging.Info("tillsync daemon stopped", nil)
	return runErr
}

// restoredCredential carries unsealed backend credentials.
type restoredCredential struct {
	baseURL   string
	apiKey    string
	apiSecret string
}

// restoreCredentials loads and unseals the stored credentials. A missing
// or disabled row is not an error; the daemon just starts unconfigured.
func restoreCredentials(repo *db.Repository, machineID string) (*restoredCredential, error) {
	cred, err := repo.GetCredential()
	if err != nil {
		if errors.Is(err, errors.ErrSyncNotConfigured) {
			return nil, nil
		}
		return nil, err
	}
	if !cred.IsEnabled {
		return nil, nil
	}

	apiKey, err := crypto.OpenCredential(cred.APIKeyEncrypted, machineID)
	if err != nil {
		return nil, err
	}
	apiSecret, err := crypto.OpenCredential(cred.APISecretEncrypted, machineID)
	if err != nil {
		return nil, err
	}

	return &restoredCredential{
		baseURL:   cred.BaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}, nil
}

// backendLink retargets both the API client and the reachability prober
// when the operator stores new credentials.
type backendLink struct {
	client *remote.Client
	prober *connectivity.HTTPProber
}

func (b *backendLink) Configure(baseURL, apiKey, apiSecret string) {
	b.client.Configure(baseURL, apiKey, apiSecret)
	b.prober.SetBaseURL(baseURL)
}

func (b *backendLink) Configured() bool {
	return b.client.Configured()
}

func (b *backendLink) BaseURL() string {
	return b.client.BaseURL()
}
