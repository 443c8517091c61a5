// Package worker bootstraps the River job queue and the periodic
// credential sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/mantlekit/element/internal/store"
)

// sweepInterval is how often the credential sweep runs.
const sweepInterval = time.Hour

// sweepWarningWindow is how far ahead of refresh-token expiry the sweep
// starts warning.
const sweepWarningWindow = 7 * 24 * time.Hour

// CredentialSweepArgs is the periodic job that purges expired short-lived
// access token rows and warns about organizations whose refresh tokens are
// close to expiry. Offline tokens are never purged: they carry no expiry
// by design.
type CredentialSweepArgs struct{}

// Kind returns the unique job type identifier for credential sweep jobs.
func (CredentialSweepArgs) Kind() string { return "credential_sweep" }

type credentialSweepWorker struct {
	river.WorkerDefaults[CredentialSweepArgs]
	store *store.Store
	log   *slog.Logger
}

func (w *credentialSweepWorker) Work(ctx context.Context, _ *river.Job[CredentialSweepArgs]) error {
	now := time.Now()

	purged, err := w.store.DeleteExpiredAccessTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("purge expired access tokens: %w", err)
	}
	if purged > 0 {
		w.log.Info("purged expired access tokens", "count", purged)
	}

	expiring, err := w.store.ExpiringOrganizations(ctx, now.Add(sweepWarningWindow))
	if err != nil {
		return fmt.Errorf("list expiring organizations: %w", err)
	}
	for _, org := range expiring {
		w.log.Warn("organization refresh token nearing expiry",
			"organization", org.MantleID,
			"expires_at", org.RefreshTokenExpiresAt)
	}
	return nil
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// noopQueue is used when River is unavailable (e.g. DB_DRIVER=sqlite).
type noopQueue struct{ log *slog.Logger }

func (n *noopQueue) Start(_ context.Context) error {
	n.log.Info("worker queue disabled (sqlite driver — River requires postgres)")
	return nil
}
func (n *noopQueue) Stop(_ context.Context) error { return nil }

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a fully-functional River client backed by pool,
//     with the credential sweep scheduled periodically.
//   - anything else: returns a no-op queue that logs a startup notice.
//
// pool may be nil when driver != "postgres".
func New(ctx context.Context, pool *pgxpool.Pool, driver string, concurrency int, st *store.Store, log *slog.Logger) (Queue, error) {
	if driver != "postgres" {
		return &noopQueue{log: log}, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &credentialSweepWorker{store: st, log: log})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		Logger:  log,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(sweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return CredentialSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
