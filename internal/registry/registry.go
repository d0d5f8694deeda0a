// Package registry is the durable store of machines, projects, and pending
// joins (spec §4.2). It is a façade over a single embedded relational store;
// reads may be concurrent, writes are serialised by the underlying
// database/sql connection pool (capped at one writer via SetMaxOpenConns(1)
// for the sqlite backend, which does not support concurrent writers).
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// Registry is the Hub's in-process façade over the durable machine/project store.
type Registry struct {
	db *sql.DB
}

// Open opens (and migrates) the registry database at path. Use ":memory:"
// for tests and standalone mode.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// sqlite has a single writer; serialise writes through one connection so
	// concurrent Registry callers never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS machines (
			machine_id   TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			overlay_ip   TEXT NOT NULL DEFAULT '',
			daemon_url   TEXT NOT NULL DEFAULT '',
			token        TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			last_seen    INTEGER,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			machine_id  TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			caps        TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (machine_id, project_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("registry: migrate: %w", err)
		}
	}
	return nil
}

// RegisterMachine upserts a machine row. Idempotent on identical input
// (invariant: calling twice with the same fields leaves the row unchanged
// beyond CreatedAt, which is only set on first insert).
func (r *Registry) RegisterMachine(ctx context.Context, m domain.Machine) error {
	var lastSeen any
	if m.LastSeen != nil {
		lastSeen = m.LastSeen.Unix()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO machines (machine_id, display_name, overlay_ip, daemon_url, token, status, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_id) DO UPDATE SET
			display_name = excluded.display_name,
			overlay_ip   = excluded.overlay_ip,
			daemon_url   = excluded.daemon_url,
			token        = excluded.token,
			status       = excluded.status,
			last_seen    = COALESCE(excluded.last_seen, machines.last_seen)
	`, m.ID, m.DisplayName, m.OverlayIP, m.DaemonURL, m.Token, string(m.Status), lastSeen, createdAt.Unix())
	if err != nil {
		return domain.NewSubSystemError("machine", "Registry.RegisterMachine", domain.ErrInternal, err.Error())
	}
	return nil
}

// RegisterProject upserts a project row, implicitly ensuring the synthetic
// "home" project exists for the machine.
func (r *Registry) RegisterProject(ctx context.Context, p domain.Project) error {
	caps := joinCaps(p.Caps)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (machine_id, project_id, description, caps, path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(machine_id, project_id) DO UPDATE SET
			description = excluded.description,
			caps        = excluded.caps,
			path        = excluded.path
	`, p.MachineID, p.ProjectID, p.Description, caps, p.Path)
	if err != nil {
		return domain.NewSubSystemError("project", "Registry.RegisterProject", domain.ErrInternal, err.Error())
	}

	if p.ProjectID != domain.HomeProjectID {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO projects (machine_id, project_id, description, caps, path)
			VALUES (?, ?, '', '', '')
			ON CONFLICT(machine_id, project_id) DO NOTHING
		`, p.MachineID, domain.HomeProjectID)
		if err != nil {
			return domain.NewSubSystemError("project", "Registry.RegisterProject", domain.ErrInternal, err.Error())
		}
	}
	return nil
}

// UpdateHeartbeat refreshes last_seen for a machine, optionally updating its
// overlay address/daemon URL. Best-effort: the caller retries on failure.
func (r *Registry) UpdateHeartbeat(ctx context.Context, machineID string, overlayIP, daemonURL *string) error {
	now := time.Now().Unix()
	if overlayIP != nil && daemonURL != nil {
		_, err := r.db.ExecContext(ctx, `
			UPDATE machines SET last_seen = ?, overlay_ip = ?, daemon_url = ? WHERE machine_id = ?
		`, now, *overlayIP, *daemonURL, machineID)
		return wrapNotFound(err, "machine", machineID)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE machines SET last_seen = ? WHERE machine_id = ?`, now, machineID)
	if err != nil {
		return domain.NewSubSystemError("machine", "Registry.UpdateHeartbeat", domain.ErrInternal, err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSubSystemError("machine", "Registry.UpdateHeartbeat", domain.ErrNotFound, machineID)
	}
	return nil
}

// ApproveJoin transitions a machine to approved and issues its token.
// Idempotent after the first success: calling again on an already-approved
// machine returns the same stored token without generating a new one.
func (r *Registry) ApproveJoin(ctx context.Context, machineID, newToken string) (token string, err error) {
	m, err := r.GetMachine(ctx, machineID)
	if err != nil {
		return "", err
	}
	if m.Status == domain.MachineStatusApproved {
		return m.Token, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE machines SET status = ?, token = ? WHERE machine_id = ?
	`, string(domain.MachineStatusApproved), newToken, machineID)
	if err != nil {
		return "", domain.NewSubSystemError("machine", "Registry.ApproveJoin", domain.ErrInternal, err.Error())
	}
	return newToken, nil
}

// DenyJoin transitions a machine to denied. Idempotent.
func (r *Registry) DenyJoin(ctx context.Context, machineID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE machines SET status = ?, token = '' WHERE machine_id = ?`,
		string(domain.MachineStatusDenied), machineID)
	return wrapNotFound(err, "machine", machineID)
}

// RevokeMachine transitions an approved machine to revoked, clearing its token.
func (r *Registry) RevokeMachine(ctx context.Context, machineID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE machines SET status = ?, token = '' WHERE machine_id = ?`,
		string(domain.MachineStatusRevoked), machineID)
	return wrapNotFound(err, "machine", machineID)
}

// GetMachine returns a single machine by id.
func (r *Registry) GetMachine(ctx context.Context, machineID string) (domain.Machine, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT machine_id, display_name, overlay_ip, daemon_url, token, status, last_seen, created_at
		FROM machines WHERE machine_id = ?
	`, machineID)
	m, err := scanMachine(row)
	if err == sql.ErrNoRows {
		return domain.Machine{}, domain.NewSubSystemError("machine", "Registry.GetMachine", domain.ErrNotFound, machineID)
	}
	if err != nil {
		return domain.Machine{}, domain.NewSubSystemError("machine", "Registry.GetMachine", domain.ErrInternal, err.Error())
	}
	return m, nil
}

// TokenFor returns the current shared secret for an approved machine.
// Used directly as an auth.TokenLookup.
func (r *Registry) TokenFor(machineID string) (string, bool) {
	m, err := r.GetMachine(context.Background(), machineID)
	if err != nil || m.Status != domain.MachineStatusApproved || m.Token == "" {
		return "", false
	}
	return m.Token, true
}

// AgentFilter selects which agents ListAgents returns.
type AgentFilter struct {
	Online    bool   // only machines whose last heartbeat is within the online window
	MachineID string // restrict to one machine, empty = all
}

// AgentSummary is one row of ListAgents' result.
type AgentSummary struct {
	MachineID string
	ProjectID string
	Status    domain.MachineStatus
	Online    bool
}

// ListAgents returns every known project on every registered machine, whatever
// the machine's status, filtered per AgentFilter.
func (r *Registry) ListAgents(ctx context.Context, filter AgentFilter) ([]AgentSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.machine_id, p.project_id, m.status, m.last_seen
		FROM projects p JOIN machines m ON m.machine_id = p.machine_id
		ORDER BY p.machine_id, p.project_id
	`)
	if err != nil {
		return nil, domain.NewSubSystemError("project", "Registry.ListAgents", domain.ErrInternal, err.Error())
	}
	defer rows.Close()

	now := time.Now()
	var out []AgentSummary
	for rows.Next() {
		var machineID, projectID, status string
		var lastSeen sql.NullInt64
		if err := rows.Scan(&machineID, &projectID, &status, &lastSeen); err != nil {
			return nil, domain.NewSubSystemError("project", "Registry.ListAgents", domain.ErrInternal, err.Error())
		}
		online := false
		if lastSeen.Valid {
			online = now.Sub(time.Unix(lastSeen.Int64, 0)) <= domain.OnlineWindow
		}
		if filter.MachineID != "" && machineID != filter.MachineID {
			continue
		}
		if filter.Online && !online {
			continue
		}
		out = append(out, AgentSummary{
			MachineID: machineID,
			ProjectID: projectID,
			Status:    domain.MachineStatus(status),
			Online:    online,
		})
	}
	return out, rows.Err()
}

// GetPendingJoins returns every machine currently in pending status.
func (r *Registry) GetPendingJoins(ctx context.Context) ([]domain.Machine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT machine_id, display_name, overlay_ip, daemon_url, token, status, last_seen, created_at
		FROM machines WHERE status = ? ORDER BY created_at
	`, string(domain.MachineStatusPending))
	if err != nil {
		return nil, domain.NewSubSystemError("machine", "Registry.GetPendingJoins", domain.ErrInternal, err.Error())
	}
	defer rows.Close()

	var out []domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, domain.NewSubSystemError("machine", "Registry.GetPendingJoins", domain.ErrInternal, err.Error())
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GCStaleJoins removes pending/denied machine rows older than olderThan.
func (r *Registry) GCStaleJoins(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM machines WHERE status IN (?, ?) AND created_at < ?
	`, string(domain.MachineStatusPending), string(domain.MachineStatusDenied), cutoff)
	if err != nil {
		return 0, domain.NewSubSystemError("machine", "Registry.GCStaleJoins", domain.ErrInternal, err.Error())
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (domain.Machine, error) {
	var m domain.Machine
	var status string
	var lastSeen sql.NullInt64
	var createdAt int64
	if err := row.Scan(&m.ID, &m.DisplayName, &m.OverlayIP, &m.DaemonURL, &m.Token, &status, &lastSeen, &createdAt); err != nil {
		return domain.Machine{}, err
	}
	m.Status = domain.MachineStatus(status)
	m.CreatedAt = time.Unix(createdAt, 0)
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0)
		m.LastSeen = &t
	}
	if m.Status != domain.MachineStatusApproved {
		m.Token = ""
	}
	return m, nil
}

func wrapNotFound(err error, subsystem, detail string) error {
	if err == nil {
		return nil
	}
	return domain.NewSubSystemError(subsystem, "Registry", domain.ErrInternal, err.Error())
}

func joinCaps(caps []string) string {
	out := ""
	for i, c := range caps {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
