// Package analytics implements the optional PostgreSQL event-log mirror
// (SPEC_FULL §4.4): a secondary, queryable projection of every engine
// event, independent of the authoritative flat-file session store.
//
// Grounded on the teacher's pkg/database migration bootstrap
// (//go:embed migrations, golang-migrate applying them on startup), but
// built on pgx's native pool instead of the teacher's database/sql-plus-
// ent stack — there is no ORM here, just hand-written SQL, since this
// package owns a single append-only table (see DESIGN.md for why ent
// was dropped).
package analytics

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/tarsy/pkg/events"
)

//go:embed migrations
var migrationsFS embed.FS

// mirrorQueueBound caps how far the mirror can fall behind the live event
// stream before it starts dropping rows rather than blocking a publish.
const mirrorQueueBound = 1024

// Mirror is an events.Sink that asynchronously persists every event into
// PostgreSQL. WriteEvent never blocks the caller and never returns an
// error that would interrupt the bus: a down or saturated database
// degrades the mirror, not the engine (§4.4's fail-open contract).
type Mirror struct {
	pool  *pgxpool.Pool
	queue chan events.Event
	done  chan struct{}
}

// NewMirror connects to dsn, applies pending migrations, and starts the
// background writer. Callers should treat a non-nil error as "run without
// the mirror" rather than fatal, since analytics is optional by design.
func NewMirror(ctx context.Context, dsn string) (*Mirror, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}

	m := &Mirror{
		pool:  pool,
		queue: make(chan events.Event, mirrorQueueBound),
		done:  make(chan struct{}),
	}
	go m.run()
	return m, nil
}

func runMigrations(dsn string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	defer func() { _ = sourceDriver.Close() }()

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// WriteEvent implements events.Sink. A full queue drops the event rather
// than blocking the publisher.
func (m *Mirror) WriteEvent(e events.Event) error {
	select {
	case m.queue <- e:
	default:
		slog.Warn("analytics: mirror queue full, dropping event", "event_type", e.Type)
	}
	return nil
}

func (m *Mirror) run() {
	defer close(m.done)
	for e := range m.queue {
		if err := m.insert(context.Background(), e); err != nil {
			slog.Warn("analytics: insert failed", "event_type", e.Type, "error", err)
		}
	}
}

func (m *Mirror) insert(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO events (id, sequence, type, priority, session_id, project_id, occurred_at, message, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Sequence, e.Type, string(e.Priority), e.SessionID, e.ProjectID, e.Timestamp, e.Message, data)
	return err
}

// Close stops accepting new events, drains the queue, and closes the pool.
func (m *Mirror) Close() {
	close(m.queue)
	<-m.done
	m.pool.Close()
}
