// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore implements the escalation stores on database/sql. It
// supports SQLite for single-node deployments and PostgreSQL for shared ones;
// policy conditions, steps, and event metadata are stored as JSON columns.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/escalation"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a SQL-backed implementation of the incident, directory, and event
// stores. The PolicyStore view is exposed via Policies().
type Store struct {
	db     *sql.DB
	driver string
	log    *zap.SugaredLogger
}

// Open connects to the database and verifies the connection.
func Open(driver, dsn string, log *zap.SugaredLogger) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}
	log.Infow("Connected to database", "driver", driver)
	return New(db, driver, log), nil
}

// New wraps an existing connection. Used by tests with sqlmock.
func New(db *sql.DB, driver string, log *zap.SugaredLogger) *Store {
	return &Store{db: db, driver: driver, log: log.Named("sqlstore")}
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// rebind converts ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS team_members (
		team_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (team_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		service TEXT NOT NULL DEFAULT '',
		team_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		snoozed_until TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS incident_assignees (
		incident_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (incident_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		conditions TEXT NOT NULL DEFAULT '{}',
		steps TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		policy_id INTEGER NOT NULL,
		step INTEGER NOT NULL,
		status TEXT NOT NULL,
		triggered_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_incident_policy
		ON escalation_events (incident_id, policy_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS team_members (
		team_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (team_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		service TEXT NOT NULL DEFAULT '',
		team_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		snoozed_until TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS incident_assignees (
		incident_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (incident_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_policies (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		conditions JSONB NOT NULL DEFAULT '{}',
		steps JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_events (
		id BIGSERIAL PRIMARY KEY,
		incident_id BIGINT NOT NULL,
		policy_id BIGINT NOT NULL,
		step INTEGER NOT NULL,
		status TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		metadata JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_incident_policy
		ON escalation_events (incident_id, policy_id)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.log.Infow("Database schema up to date", "driver", s.driver)
	return nil
}

// ListActive returns incidents with status triggered or acknowledged.
func (s *Store) ListActive(ctx context.Context) ([]escalation.Incident, error) {
	query := s.rebind(`SELECT id, title, description, status, severity, service, team_id, created_at, snoozed_until
		FROM incidents WHERE status IN (?, ?) ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query,
		string(escalation.StatusTriggered), string(escalation.StatusAcknowledged))
	if err != nil {
		return nil, fmt.Errorf("listing active incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Get returns one incident.
func (s *Store) Get(ctx context.Context, id int64) (escalation.Incident, error) {
	query := s.rebind(`SELECT id, title, description, status, severity, service, team_id, created_at, snoozed_until
		FROM incidents WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escalation.Incident{}, escalation.ErrNotFound
	}
	return inc, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (escalation.Incident, error) {
	var (
		inc          escalation.Incident
		status       string
		severity     string
		teamID       sql.NullInt64
		snoozedUntil sql.NullTime
	)
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &status, &severity,
		&inc.Service, &teamID, &inc.CreatedAt, &snoozedUntil)
	if err != nil {
		return escalation.Incident{}, err
	}
	inc.Status = escalation.IncidentStatus(status)
	inc.Severity = escalation.Severity(severity)
	if teamID.Valid {
		inc.TeamID = &teamID.Int64
	}
	if snoozedUntil.Valid {
		t := snoozedUntil.Time
		inc.SnoozedUntil = &t
	}
	return inc, nil
}

// Assignees returns the users assigned to an incident.
func (s *Store) Assignees(ctx context.Context, incidentID int64) ([]escalation.User, error) {
	query := s.rebind(`SELECT u.id, u.name, u.email, u.role
		FROM users u JOIN incident_assignees a ON a.user_id = u.id
		WHERE a.incident_id = ? ORDER BY u.id`)
	return s.queryUsers(ctx, query, incidentID)
}

// Assign adds a user to an incident's assignee set.
func (s *Store) Assign(ctx context.Context, incidentID, userID int64) error {
	query := `INSERT INTO incident_assignees (incident_id, user_id) VALUES (?, ?)`
	if s.driver == DriverPostgres {
		query += ` ON CONFLICT DO NOTHING`
	} else {
		query = strings.Replace(query, "INSERT", "INSERT OR IGNORE", 1)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), incidentID, userID); err != nil {
		return fmt.Errorf("assigning incident %d to user %d: %w", incidentID, userID, err)
	}
	return nil
}

// UpdateStatus sets an incident's status.
func (s *Store) UpdateStatus(ctx context.Context, incidentID int64, status escalation.IncidentStatus) error {
	query := s.rebind(`UPDATE incidents SET status = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), incidentID)
	if err != nil {
		return fmt.Errorf("updating incident %d status: %w", incidentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return escalation.ErrNotFound
	}
	return nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...interface{}) ([]escalation.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.User
	for rows.Next() {
		var u escalation.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UsersByTeamAndRole returns team members holding the given role.
func (s *Store) UsersByTeamAndRole(ctx context.Context, teamID int64, role string) ([]escalation.User, error) {
	query := s.rebind(`SELECT u.id, u.name, u.email, u.role
		FROM users u JOIN team_members m ON m.user_id = u.id
		WHERE m.team_id = ? AND u.role = ? ORDER BY u.id`)
	return s.queryUsers(ctx, query, teamID, role)
}

// TeamMembers returns every member of a team.
func (s *Store) TeamMembers(ctx context.Context, teamID int64) ([]escalation.User, error) {
	query := s.rebind(`SELECT u.id, u.name, u.email, u.role
		FROM users u JOIN team_members m ON m.user_id = u.id
		WHERE m.team_id = ? ORDER BY u.id`)
	return s.queryUsers(ctx, query, teamID)
}

// listActivePolicies returns active policies with decoded conditions and steps.
func (s *Store) listActivePolicies(ctx context.Context) ([]escalation.Policy, error) {
	query := `SELECT id, name, description, active, conditions, steps
		FROM escalation_policies WHERE active ORDER BY id`
	if s.driver == DriverSQLite {
		query = strings.Replace(query, "WHERE active", "WHERE active = 1", 1)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.Policy
	for rows.Next() {
		var (
			p          escalation.Policy
			conditions []byte
			steps      []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Active, &conditions, &steps); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
				return nil, fmt.Errorf("decoding conditions of policy %d: %w", p.ID, err)
			}
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &p.Steps); err != nil {
				return nil, fmt.Errorf("decoding steps of policy %d: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type policyView struct{ s *Store }

func (v policyView) ListActive(ctx context.Context) ([]escalation.Policy, error) {
	return v.s.listActivePolicies(ctx)
}

// Policies returns the store's PolicyStore view.
func (s *Store) Policies() escalation.PolicyStore { return policyView{s} }

// Append inserts a new escalation event and assigns its ID.
func (s *Store) Append(ctx context.Context, ev *escalation.Event) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}

	if s.driver == DriverPostgres {
		query := s.rebind(`INSERT INTO escalation_events
			(incident_id, policy_id, step, status, triggered_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
		err := s.db.QueryRowContext(ctx, query,
			ev.IncidentID, ev.PolicyID, ev.Step, string(ev.Status), ev.TriggeredAt, metadata).Scan(&ev.ID)
		if err != nil {
			return fmt.Errorf("appending escalation event: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO escalation_events
		(incident_id, policy_id, step, status, triggered_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.IncidentID, ev.PolicyID, ev.Step, string(ev.Status), ev.TriggeredAt, metadata)
	if err != nil {
		return fmt.Errorf("appending escalation event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event id: %w", err)
	}
	ev.ID = id
	return nil
}

func (s *Store) finishEvent(ctx context.Context, ev *escalation.Event, status escalation.EventStatus) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}
	now := time.Now()
	query := s.rebind(`UPDATE escalation_events
		SET status = ?, completed_at = ?, metadata = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), now, metadata, ev.ID)
	if err != nil {
		return fmt.Errorf("updating escalation event %d: %w", ev.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return escalation.ErrNotFound
	}
	ev.Status = status
	ev.CompletedAt = &now
	return nil
}

// Complete marks an event completed and persists its metadata.
func (s *Store) Complete(ctx context.Context, ev *escalation.Event) error {
	return s.finishEvent(ctx, ev, escalation.EventCompleted)
}

// Fail marks an event failed with a reason and persists its metadata.
func (s *Store) Fail(ctx context.Context, ev *escalation.Event, reason string) error {
	ev.Metadata.Error = reason
	return s.finishEvent(ctx, ev, escalation.EventFailed)
}

// ListByIncidentPolicy returns all events for an (incident, policy) pair.
func (s *Store) ListByIncidentPolicy(ctx context.Context, incidentID, policyID int64) ([]escalation.Event, error) {
	query := s.rebind(`SELECT id, incident_id, policy_id, step, status, triggered_at, completed_at, metadata
		FROM escalation_events WHERE incident_id = ? AND policy_id = ? ORDER BY id`)
	return s.queryEvents(ctx, query, incidentID, policyID)
}

// ListByIncident returns all events for an incident, newest first.
func (s *Store) ListByIncident(ctx context.Context, incidentID int64) ([]escalation.Event, error) {
	query := s.rebind(`SELECT id, incident_id, policy_id, step, status, triggered_at, completed_at, metadata
		FROM escalation_events WHERE incident_id = ? ORDER BY id DESC`)
	return s.queryEvents(ctx, query, incidentID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]escalation.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying escalation events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.Event
	for rows.Next() {
		var (
			ev          escalation.Event
			status      string
			completedAt sql.NullTime
			metadata    []byte
		)
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.PolicyID, &ev.Step,
			&status, &ev.TriggeredAt, &completedAt, &metadata); err != nil {
			return nil, err
		}
		ev.Status = escalation.EventStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			ev.CompletedAt = &t
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata of event %d: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
