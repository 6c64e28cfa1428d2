// Package sqlite provides a durable backend on a single SQLite database
// file. Suited for single-node deployments; all coordination happens through
// transactions on the one database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/metrickeys"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewInMemoryBackend creates a backend on an in-memory SQLite database,
// useful for tests.
func NewInMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	b, err := newSqliteBackend("file::memory:?mode=memory&cache=shared", opts...)
	if err != nil {
		panic(err)
	}

	return b
}

func NewSqliteBackend(path string, opts ...backend.BackendOption) (backend.Backend, error) {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer; funnel all access through one
	// connection to avoid SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	b := &sqliteBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}

	if err := b.migrate(); err != nil {
		return nil, err
	}

	return b, nil
}

type sqliteBackend struct {
	db      *sql.DB
	options *backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) migrate() error {
	dbi, err := migratesqlite.WithInstance(sb.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) CreateInstance(ctx context.Context, instance *core.Instance, event *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var state core.InstanceState
	err = tx.QueryRowContext(
		ctx, "SELECT state FROM instances WHERE instance_id = ?", instance.InstanceID,
	).Scan(&state)

	switch {
	case err == nil:
		if !state.Finished() {
			return backend.ErrInstanceAlreadyExists
		}

		// A finished instance with the same ID gives way to the new one
		if err := removeInstance(ctx, tx, instance.InstanceID); err != nil {
			return err
		}

	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking for existing instance: %w", err)
	}

	attr := event.Attributes.(*history.OrchestrationStartedAttributes)

	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO instances (instance_id, execution_id, name, state, created_at) VALUES (?, ?, ?, ?, ?)",
		instance.InstanceID,
		instance.ExecutionID,
		attr.Name,
		core.InstanceStateRunning,
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	if err := insertPendingEvents(ctx, tx, instance.InstanceID, []*history.Event{event}); err != nil {
		return err
	}

	return tx.Commit()
}

func removeInstance(ctx context.Context, tx *sql.Tx, instanceID string) error {
	for _, table := range []string{"instances", "pending_events", "history", "activities"} {
		if _, err := tx.ExecContext(
			ctx, fmt.Sprintf("DELETE FROM %s WHERE instance_id = ?", table), instanceID,
		); err != nil {
			return fmt.Errorf("removing instance from %s: %w", table, err)
		}
	}

	return nil
}

func (sb *sqliteBackend) GetInstanceSnapshot(ctx context.Context, instanceID string) (*backend.Snapshot, error) {
	row := sb.db.QueryRowContext(
		ctx,
		`SELECT instance_id, execution_id, name, state, custom_status, output, error, created_at, completed_at, last_sequence_id
			FROM instances WHERE instance_id = ?`,
		instanceID,
	)

	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*backend.Snapshot, error) {
	var s backend.Snapshot
	var instanceID, executionID string
	var errJSON []byte

	if err := row.Scan(
		&instanceID, &executionID, &s.Name, &s.State, &s.CustomStatus, &s.Output, &errJSON,
		&s.CreatedAt, &s.CompletedAt, &s.LastSequenceID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("scanning instance: %w", err)
	}

	s.Instance = core.NewInstance(instanceID, executionID)

	if len(errJSON) > 0 {
		var e orcherrors.Error
		if err := e.UnmarshalJSON(errJSON); err != nil {
			return nil, fmt.Errorf("deserializing instance error: %w", err)
		}
		s.Error = &e
	}

	return &s, nil
}

func (sb *sqliteBackend) GetInstanceHistory(ctx context.Context, instance *core.Instance, afterSequenceID *int64) ([]*history.Event, error) {
	after := int64(0)
	if afterSequenceID != nil {
		after = *afterSequenceID
	}

	rows, err := sb.db.QueryContext(
		ctx,
		`SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes
			FROM history WHERE instance_id = ? AND sequence_id > ? ORDER BY sequence_id`,
		instance.InstanceID,
		after,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var events []*history.Event

	for rows.Next() {
		var event history.Event
		var attributes []byte

		if err := rows.Scan(
			&event.ID, &event.SequenceID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes,
		); err != nil {
			return nil, fmt.Errorf("scanning history event: %w", err)
		}

		attr, err := history.DeserializeAttributes(event.Type, attributes)
		if err != nil {
			return nil, fmt.Errorf("deserializing attributes: %w", err)
		}
		event.Attributes = attr

		events = append(events, &event)
	}

	return events, rows.Err()
}

func (sb *sqliteBackend) AddInstanceEvent(ctx context.Context, instanceID string, event *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(
		ctx, "SELECT 1 FROM instances WHERE instance_id = ?", instanceID,
	).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.ErrInstanceNotFound
		}

		return fmt.Errorf("checking instance: %w", err)
	}

	if err := insertPendingEvents(ctx, tx, instanceID, []*history.Event{event}); err != nil {
		return err
	}

	return tx.Commit()
}

func insertPendingEvents(ctx context.Context, tx *sql.Tx, instanceID string, events []*history.Event) error {
	for _, event := range events {
		attributes, err := history.SerializeAttributes(event.Attributes)
		if err != nil {
			return fmt.Errorf("serializing attributes: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO pending_events (id, instance_id, event_type, timestamp, schedule_event_id, attributes, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, instanceID, event.Type, event.Timestamp, event.ScheduleEventID, attributes, time.Now(),
		); err != nil {
			return fmt.Errorf("inserting pending event: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) GetOrchestrationTask(ctx context.Context) (*backend.OrchestrationTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	lockID := uuid.NewString()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE instances SET locked_until = ?, lock_id = ? WHERE rowid = (
			SELECT i.rowid FROM instances i
				WHERE (i.locked_until IS NULL OR i.locked_until < ?)
				AND EXISTS (SELECT 1 FROM pending_events pe WHERE pe.instance_id = i.instance_id)
				LIMIT 1
		)`,
		now.Add(sb.options.OrchestrationLockTimeout),
		lockID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("locking orchestration task: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 0 {
		return nil, nil
	}

	row := tx.QueryRowContext(
		ctx,
		`SELECT instance_id, execution_id, name, state, custom_status, output, error, created_at, completed_at, last_sequence_id
			FROM instances WHERE lock_id = ?`,
		lockID,
	)

	snapshot, err := scanSnapshot(row)
	if err != nil {
		return nil, err
	}

	newEvents, err := queryPendingEvents(ctx, tx, snapshot.Instance.InstanceID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("locking orchestration task: %w", err)
	}

	return &backend.OrchestrationTask{
		ID:             lockID,
		Instance:       snapshot.Instance,
		State:          snapshot.State,
		LastSequenceID: snapshot.LastSequenceID,
		NewEvents:      newEvents,
	}, nil
}

func queryPendingEvents(ctx context.Context, tx *sql.Tx, instanceID string) ([]*history.Event, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, event_type, timestamp, schedule_event_id, attributes
			FROM pending_events WHERE instance_id = ? ORDER BY rowid`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending events: %w", err)
	}
	defer rows.Close()

	var events []*history.Event

	for rows.Next() {
		var event history.Event
		var attributes []byte

		if err := rows.Scan(&event.ID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes); err != nil {
			return nil, fmt.Errorf("scanning pending event: %w", err)
		}

		attr, err := history.DeserializeAttributes(event.Type, attributes)
		if err != nil {
			return nil, fmt.Errorf("deserializing attributes: %w", err)
		}
		event.Attributes = attr

		events = append(events, &event)
	}

	return events, rows.Err()
}

func (sb *sqliteBackend) ExtendOrchestrationTask(ctx context.Context, task *backend.OrchestrationTask) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE instances SET locked_until = ? WHERE instance_id = ? AND lock_id = ?",
		time.Now().Add(sb.options.OrchestrationLockTimeout),
		task.Instance.InstanceID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("extending orchestration task lock: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return backend.ErrTaskNotLocked
	}

	return nil
}

func (sb *sqliteBackend) CompleteOrchestrationTask(
	ctx context.Context, task *backend.OrchestrationTask, state core.InstanceState,
	executedEvents, activityEvents []*history.Event,
) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(
		ctx,
		`SELECT instance_id, execution_id, name, state, custom_status, output, error, created_at, completed_at, last_sequence_id
			FROM instances WHERE instance_id = ? AND lock_id = ?`,
		task.Instance.InstanceID,
		task.ID,
	)

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			return backend.ErrTaskNotLocked
		}

		return err
	}

	// Append executed events to history
	for _, event := range executedEvents {
		attributes, err := history.SerializeAttributes(event.Attributes)
		if err != nil {
			return fmt.Errorf("serializing attributes: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO history (id, instance_id, sequence_id, event_type, timestamp, schedule_event_id, attributes)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, task.Instance.InstanceID, event.SequenceID, event.Type, event.Timestamp, event.ScheduleEventID, attributes,
		); err != nil {
			return fmt.Errorf("inserting history event: %w", err)
		}
	}

	// Remove the pending events this task consumed
	for _, event := range task.NewEvents {
		if _, err := tx.ExecContext(
			ctx, "DELETE FROM pending_events WHERE id = ?", event.ID,
		); err != nil {
			return fmt.Errorf("deleting pending event: %w", err)
		}
	}

	snapshot.ApplyEvents(state, executedEvents)

	var errJSON []byte
	if snapshot.Error != nil {
		if errJSON, err = json.Marshal(snapshot.Error); err != nil {
			return fmt.Errorf("serializing instance error: %w", err)
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE instances SET state = ?, custom_status = ?, output = ?, error = ?, completed_at = ?, last_sequence_id = ?,
			locked_until = NULL, lock_id = NULL WHERE instance_id = ?`,
		snapshot.State,
		snapshot.CustomStatus,
		snapshot.Output,
		errJSON,
		snapshot.CompletedAt,
		snapshot.LastSequenceID,
		task.Instance.InstanceID,
	); err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	// Enqueue scheduled activities
	for _, event := range activityEvents {
		attributes, err := history.SerializeAttributes(event.Attributes)
		if err != nil {
			return fmt.Errorf("serializing attributes: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO activities (id, instance_id, execution_id, event_id, event_type, timestamp, schedule_event_id, attributes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), task.Instance.InstanceID, task.Instance.ExecutionID,
			event.ID, event.Type, event.Timestamp, event.ScheduleEventID, attributes,
		); err != nil {
			return fmt.Errorf("inserting activity: %w", err)
		}
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetActivityTask(ctx context.Context) (*backend.ActivityTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	lockID := uuid.NewString()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE activities SET locked_until = ?, lock_id = ? WHERE rowid = (
			SELECT rowid FROM activities WHERE locked_until IS NULL OR locked_until < ? LIMIT 1
		)`,
		now.Add(sb.options.ActivityLockTimeout),
		lockID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("locking activity task: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 0 {
		return nil, nil
	}

	var instanceID, executionID string
	var event history.Event
	var attributes []byte

	if err := tx.QueryRowContext(
		ctx,
		`SELECT instance_id, execution_id, event_id, event_type, timestamp, schedule_event_id, attributes
			FROM activities WHERE lock_id = ?`,
		lockID,
	).Scan(
		&instanceID, &executionID, &event.ID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes,
	); err != nil {
		return nil, fmt.Errorf("scanning activity task: %w", err)
	}

	attr, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing attributes: %w", err)
	}
	event.Attributes = attr

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("locking activity task: %w", err)
	}

	return &backend.ActivityTask{
		ID:       lockID,
		Instance: core.NewInstance(instanceID, executionID),
		Event:    &event,
	}, nil
}

func (sb *sqliteBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE activities SET locked_until = ? WHERE lock_id = ?",
		time.Now().Add(sb.options.ActivityLockTimeout),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("extending activity task lock: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return backend.ErrTaskNotLocked
	}

	return nil
}

func (sb *sqliteBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM activities WHERE lock_id = ?", task.ID)
	if err != nil {
		return fmt.Errorf("deleting activity task: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		// Lock expired, another worker owns this task now
		return backend.ErrTaskNotLocked
	}

	if err := insertPendingEvents(ctx, tx, task.Instance.InstanceID, []*history.Event{result}); err != nil {
		return err
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	if err := sb.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM instances WHERE state = ? OR state = ?",
		core.InstanceStateRunning, core.InstanceStateSuspended,
	).Scan(&s.ActiveInstances); err != nil {
		return nil, fmt.Errorf("counting active instances: %w", err)
	}

	if err := sb.db.QueryRowContext(
		ctx, "SELECT COUNT(DISTINCT instance_id) FROM pending_events",
	).Scan(&s.PendingOrchestrationTasks); err != nil {
		return nil, fmt.Errorf("counting pending orchestration tasks: %w", err)
	}

	if err := sb.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM activities",
	).Scan(&s.PendingActivities); err != nil {
		return nil, fmt.Errorf("counting pending activities: %w", err)
	}

	return s, nil
}

func (sb *sqliteBackend) Logger() *slog.Logger {
	return sb.options.Logger
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (sb *sqliteBackend) Converter() converter.Converter {
	return sb.options.Converter
}

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
