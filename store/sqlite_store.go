package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/tick"
)

// SQLiteStore is the SQLite-backed Instance Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-migrated *sql.DB as a Store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeFormat), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil, errors.Wrapf(err, "parse timestamp %q", ns.String)
	}
	return &parsed, nil
}

// --- Sensors ---

func (s *SQLiteStore) UpsertSensor(ctx context.Context, sn sensor.Sensor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensors (
			selector_id, code_location, repository, sensor_name,
			min_interval_seconds, sensor_type, default_status, handled_by_asset_daemon
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(selector_id) DO UPDATE SET
			min_interval_seconds = excluded.min_interval_seconds,
			sensor_type = excluded.sensor_type,
			default_status = excluded.default_status,
			handled_by_asset_daemon = excluded.handled_by_asset_daemon`,
		sn.SelectorID(), sn.Identity.CodeLocation, sn.Identity.Repository, sn.Identity.SensorName,
		sn.Definition.MinIntervalSeconds, sn.Definition.SensorType, sn.Definition.DefaultStatus, sn.Definition.HandledByAssetDaemon,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert sensor")
	}
	return nil
}

func (s *SQLiteStore) ListSensors(ctx context.Context) ([]sensor.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_location, repository, sensor_name,
			min_interval_seconds, sensor_type, default_status, handled_by_asset_daemon
		FROM sensors`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sensors")
	}
	defer rows.Close()

	var out []sensor.Sensor
	for rows.Next() {
		var sn sensor.Sensor
		if err := rows.Scan(
			&sn.Identity.CodeLocation, &sn.Identity.Repository, &sn.Identity.SensorName,
			&sn.Definition.MinIntervalSeconds, &sn.Definition.SensorType, &sn.Definition.DefaultStatus, &sn.Definition.HandledByAssetDaemon,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan sensor")
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// --- Instigator state ---

func (s *SQLiteStore) AllInstigatorStates(ctx context.Context) ([]*sensor.InstigatorState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT selector_id, status, last_tick_timestamp, last_tick_start_timestamp,
			last_tick_success_timestamp, last_sensor_start_timestamp, last_run_key,
			cursor, min_interval_seconds, sensor_type
		FROM instigator_states`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list instigator states")
	}
	defer rows.Close()

	var out []*sensor.InstigatorState
	for rows.Next() {
		state, err := scanInstigatorStateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddInstigatorState(ctx context.Context, state *sensor.InstigatorState) error {
	data := state.Data
	if data == nil {
		data = &sensor.Data{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instigator_states (
			selector_id, status, last_tick_timestamp, last_tick_start_timestamp,
			last_tick_success_timestamp, last_sensor_start_timestamp, last_run_key,
			cursor, min_interval_seconds, sensor_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.SelectorID, state.Status,
		formatTimePtr(data.LastTickTimestamp), formatTimePtr(data.LastTickStartTimestamp),
		formatTimePtr(data.LastTickSuccessTimestamp), formatTimePtr(data.LastSensorStartTimestamp),
		data.LastRunKey, data.Cursor, data.MinInterval, data.SensorType,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to add instigator state for %s", state.SelectorID)
	}
	return nil
}

func (s *SQLiteStore) UpdateInstigatorState(ctx context.Context, state *sensor.InstigatorState) error {
	data := state.Data
	if data == nil {
		data = &sensor.Data{}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE instigator_states SET
			status = ?, last_tick_timestamp = ?, last_tick_start_timestamp = ?,
			last_tick_success_timestamp = ?, last_sensor_start_timestamp = ?,
			last_run_key = ?, cursor = ?, min_interval_seconds = ?, sensor_type = ?,
			updated_at = ?
		WHERE selector_id = ?`,
		state.Status, formatTimePtr(data.LastTickTimestamp), formatTimePtr(data.LastTickStartTimestamp),
		formatTimePtr(data.LastTickSuccessTimestamp), formatTimePtr(data.LastSensorStartTimestamp),
		data.LastRunKey, data.Cursor, data.MinInterval, data.SensorType,
		formatTime(time.Now()), state.SelectorID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update instigator state for %s", state.SelectorID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "instigator state %s", state.SelectorID)
	}
	return nil
}

func (s *SQLiteStore) GetInstigatorState(ctx context.Context, selectorID string) (*sensor.InstigatorState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT selector_id, status, last_tick_timestamp, last_tick_start_timestamp,
			last_tick_success_timestamp, last_sensor_start_timestamp, last_run_key,
			cursor, min_interval_seconds, sensor_type
		FROM instigator_states WHERE selector_id = ?`, selectorID)

	state, err := scanInstigatorStateRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "instigator state %s", selectorID)
		}
		return nil, err
	}
	return state, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstigatorStateRow(row rowScanner) (*sensor.InstigatorState, error) {
	var (
		selectorID                                                         string
		status                                                             sensor.Status
		lastTick, lastTickStart, lastTickSuccess, lastSensorStart          sql.NullString
		lastRunKey, cursor                                                 sql.NullString
		minInterval                                                        int
		sensorType                                                         string
	)
	if err := row.Scan(
		&selectorID, &status, &lastTick, &lastTickStart, &lastTickSuccess, &lastSensorStart,
		&lastRunKey, &cursor, &minInterval, &sensorType,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan instigator state")
	}

	data := &sensor.Data{
		LastRunKey:  lastRunKey.String,
		Cursor:      cursor.String,
		MinInterval: minInterval,
		SensorType:  sensorType,
	}
	var err error
	if data.LastTickTimestamp, err = parseTimePtr(lastTick); err != nil {
		return nil, err
	}
	if data.LastTickStartTimestamp, err = parseTimePtr(lastTickStart); err != nil {
		return nil, err
	}
	if data.LastTickSuccessTimestamp, err = parseTimePtr(lastTickSuccess); err != nil {
		return nil, err
	}
	if data.LastSensorStartTimestamp, err = parseTimePtr(lastSensorStart); err != nil {
		return nil, err
	}

	return &sensor.InstigatorState{SelectorID: selectorID, Status: status, Data: data}, nil
}

// --- Ticks ---

func (s *SQLiteStore) CreateTick(ctx context.Context, t *tick.Tick) (*tick.Tick, error) {
	reservedJSON, err := json.Marshal(t.ReservedRunIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reserved run ids")
	}
	runIDsJSON, _ := json.Marshal(t.RunIDs)
	runKeysJSON, _ := json.Marshal(t.RunKeys)
	resultsJSON, _ := json.Marshal(t.DynamicPartitionsRequestResults)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ticks (
			id, selector_id, status, timestamp, start_timestamp, end_timestamp,
			cursor, log_key, run_ids, run_keys, run_requests, reserved_run_ids,
			failure_count, error, dynamic_partitions_request_results, skip_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SelectorID, t.Status, formatTime(t.Timestamp), formatTime(t.Timestamp), formatTimePtr(t.EndTimestamp),
		t.Cursor, t.LogKey, string(runIDsJSON), string(runKeysJSON), "[]", string(reservedJSON),
		t.FailureCount, t.Error, string(resultsJSON), t.SkipReason,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create tick %s", t.ID)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTick(ctx context.Context, t *tick.Tick) error {
	reservedJSON, err := json.Marshal(t.ReservedRunIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal reserved run ids")
	}
	runIDsJSON, _ := json.Marshal(t.RunIDs)
	runKeysJSON, _ := json.Marshal(t.RunKeys)
	resultsJSON, _ := json.Marshal(t.DynamicPartitionsRequestResults)

	res, err := s.db.ExecContext(ctx, `
		UPDATE ticks SET
			status = ?, end_timestamp = ?, cursor = ?, log_key = ?,
			run_ids = ?, run_keys = ?, reserved_run_ids = ?, failure_count = ?,
			error = ?, dynamic_partitions_request_results = ?, skip_reason = ?
		WHERE id = ?`,
		t.Status, formatTimePtr(t.EndTimestamp), t.Cursor, t.LogKey,
		string(runIDsJSON), string(runKeysJSON), string(reservedJSON), t.FailureCount,
		t.Error, string(resultsJSON), t.SkipReason, t.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update tick %s", t.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "tick %s", t.ID)
	}
	return nil
}

func (s *SQLiteStore) GetTicks(ctx context.Context, selectorID string, limit int) ([]*tick.Tick, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, selector_id, status, timestamp, end_timestamp, cursor, log_key,
			run_ids, run_keys, reserved_run_ids, failure_count, error,
			dynamic_partitions_request_results, skip_reason
		FROM ticks WHERE selector_id = ? ORDER BY timestamp DESC LIMIT ?`, selectorID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ticks for %s", selectorID)
	}
	defer rows.Close()

	var out []*tick.Tick
	for rows.Next() {
		t, err := scanTickRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeTicks(ctx context.Context, selectorID string, before time.Time, statuses []tick.Status) error {
	if len(statuses) == 0 {
		return nil
	}
	args := []interface{}{selectorID, formatTime(before)}
	query := `DELETE FROM ticks WHERE selector_id = ? AND timestamp < ? AND status IN (`
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, st)
	}
	query += ")"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to purge ticks for %s", selectorID)
	}
	return nil
}

func scanTickRow(row rowScanner) (*tick.Tick, error) {
	var (
		id, selectorID, status                                       string
		timestamp                                                    string
		endTimestamp, cursor, logKey, errStr, skipReason              sql.NullString
		runIDsJSON, runKeysJSON, reservedJSON, resultsJSON            string
		failureCount                                                 int
	)
	if err := row.Scan(
		&id, &selectorID, &status, &timestamp, &endTimestamp, &cursor, &logKey,
		&runIDsJSON, &runKeysJSON, &reservedJSON, &failureCount, &errStr,
		&resultsJSON, &skipReason,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan tick")
	}

	ts, err := time.Parse(timeFormat, timestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "parse tick timestamp %q", timestamp)
	}

	t := &tick.Tick{
		ID:           id,
		SelectorID:   selectorID,
		Status:       tick.Status(status),
		Timestamp:    ts,
		Cursor:       cursor.String,
		LogKey:       logKey.String,
		Error:        errStr.String,
		SkipReason:   skipReason.String,
		FailureCount: failureCount,
	}
	if t.EndTimestamp, err = parseTimePtr(endTimestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(runIDsJSON), &t.RunIDs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal run_ids")
	}
	if err := json.Unmarshal([]byte(runKeysJSON), &t.RunKeys); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal run_keys")
	}
	if err := json.Unmarshal([]byte(reservedJSON), &t.ReservedRunIDs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal reserved_run_ids")
	}
	if err := json.Unmarshal([]byte(resultsJSON), &t.DynamicPartitionsRequestResults); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal dynamic_partitions_request_results")
	}
	return t, nil
}

// --- Runs ---

// GetRunsByTag returns runs whose tags contain key=value. The tags column
// is JSON, so the SQL LIKE clause narrows candidates and the exact match is
// re-checked in Go against the unmarshaled map — cheaper than a JSON1
// extract function that may not be compiled into every sqlite3 build.
func (s *SQLiteStore) GetRunsByTag(ctx context.Context, key, value string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, selector_id, tick_id, run_key, status, tags, created_at
		FROM runs WHERE tags LIKE ?`, "%\""+key+"\":\""+value+"\"%")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs by tag")
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		if r.Tags[key] != value {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetRunByID(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, selector_id, tick_id, run_key, status, tags, created_at
		FROM runs WHERE run_id = ?`, id)
	r, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
		}
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *Run) (*Run, error) {
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal run tags")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = RunStatusNotStarted
	}

	var runKey sql.NullString
	if r.RunKey != "" {
		runKey = sql.NullString{String: r.RunKey, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, selector_id, tick_id, run_key, status, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SelectorID, r.TickID, runKey, r.Status, string(tagsJSON), formatTime(r.CreatedAt),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create run %s", r.ID)
	}
	return r, nil
}

func (s *SQLiteStore) SubmitRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, RunStatusStarted, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to submit run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	return nil
}

func scanRunRow(row rowScanner) (*Run, error) {
	var (
		id, selectorID, tickID, status, tagsJSON, createdAt string
		runKey                                              sql.NullString
	)
	if err := row.Scan(&id, &selectorID, &tickID, &runKey, &status, &tagsJSON, &createdAt); err != nil {
		return nil, err
	}
	r := &Run{
		ID:               id,
		SelectorID:       selectorID,
		OriginSelectorID: selectorID,
		TickID:           tickID,
		RunKey:           runKey.String,
		Status:           RunStatus(status),
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal run tags")
	}
	ts, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse run created_at %q", createdAt)
	}
	r.CreatedAt = ts
	return r, nil
}

// --- Backfills ---

func (s *SQLiteStore) AddBackfill(ctx context.Context, b *Backfill) (*Backfill, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.Status == "" {
		b.Status = RunStatusNotStarted
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, selector_id, tick_id, run_key, status, tags, created_at)
		VALUES (?, ?, ?, NULL, ?, '{}', ?)`,
		b.ID, b.SelectorID, b.TickID, b.Status, formatTime(b.CreatedAt),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to add backfill %s", b.ID)
	}
	return b, nil
}

// --- Dynamic partitions ---

func (s *SQLiteStore) HasDynamicPartition(ctx context.Context, defName, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM dynamic_partitions WHERE partitions_def_name = ? AND partition_key = ?)`,
		defName, key).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check dynamic partition %s/%s", defName, key)
	}
	return exists, nil
}

func (s *SQLiteStore) AddDynamicPartitions(ctx context.Context, defName string, keys []string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO dynamic_partitions (partitions_def_name, partition_key) VALUES (?, ?)`,
			defName, key); err != nil {
			return errors.Wrapf(err, "failed to add dynamic partition %s/%s", defName, key)
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteDynamicPartition(ctx context.Context, defName, key string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM dynamic_partitions WHERE partitions_def_name = ? AND partition_key = ?`,
		defName, key); err != nil {
		return errors.Wrapf(err, "failed to delete dynamic partition %s/%s", defName, key)
	}
	return nil
}

// --- Events ---

func (s *SQLiteStore) ReportRunlessAssetEvent(ctx context.Context, assetKey string, payload []byte) error {
	// Runless asset events are reported to telemetry/observability, which is
	// explicitly out of scope; the daemon core only needs the call to
	// succeed so evaluation can proceed.
	return nil
}

func (s *SQLiteStore) ReportEngineEvent(ctx context.Context, runID, message string) error {
	return nil
}
