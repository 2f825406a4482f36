package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Columns of rate_config that hold per-action maximums. The schema
// defaults below are the fallback values used when a column was never set;
// the update columns have no default and stay NULL until written.
var maxColumns = []string{
	"max_messages",
	"max_bans",
	"max_kicks",
	"max_channels_deleted",
	"max_channels_created",
	"max_channels_updated",
	"max_roles_created",
	"max_roles_updated",
	"max_roles_deleted",
}

const schema = `
CREATE TABLE IF NOT EXISTS rate_config (
	community_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	time_frame INTEGER NOT NULL DEFAULT 10,
	max_messages INTEGER NOT NULL DEFAULT 5,
	max_bans INTEGER NOT NULL DEFAULT 0,
	max_kicks INTEGER NOT NULL DEFAULT 0,
	max_channels_deleted INTEGER NOT NULL DEFAULT 0,
	max_channels_created INTEGER NOT NULL DEFAULT 0,
	max_channels_updated INTEGER,
	max_roles_created INTEGER NOT NULL DEFAULT 0,
	max_roles_updated INTEGER,
	max_roles_deleted INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	community_id TEXT NOT NULL,
	principal_id TEXT NOT NULL,
	event TEXT NOT NULL,
	extra_info TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_community ON audit_log(community_id, timestamp);

CREATE TABLE IF NOT EXISTS quarantine_snapshot (
	principal_id TEXT NOT NULL,
	community_id TEXT NOT NULL,
	grouping_ids TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (principal_id, community_id)
);

CREATE TABLE IF NOT EXISTS automated_account_permission_backup (
	account_id TEXT NOT NULL,
	grouping_id TEXT NOT NULL,
	community_id TEXT NOT NULL,
	permission_bitmask INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, grouping_id)
);

CREATE TABLE IF NOT EXISTS allow_list (
	community_id TEXT NOT NULL,
	principal_id TEXT NOT NULL,
	can_use_commands INTEGER NOT NULL DEFAULT 1,
	added_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (community_id, principal_id)
);

CREATE TABLE IF NOT EXISTS lockdown_backup (
	community_id TEXT NOT NULL,
	grouping_id TEXT NOT NULL,
	permission_bitmask INTEGER NOT NULL,
	PRIMARY KEY (community_id, grouping_id)
);
`

type Database struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and applies the schema.
// ":memory:" is accepted and pinned to a single connection.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// ===== Rate config =====

// GetRateConfig returns the stored row for a community, or nil when the
// community has never been configured.
func (d *Database) GetRateConfig(ctx context.Context, communityID string) (*RateConfig, error) {
	cols := append([]string{"enabled", "time_frame", "updated_at"}, maxColumns...)
	query := fmt.Sprintf("SELECT %s FROM rate_config WHERE community_id = ?", strings.Join(cols, ", "))

	var (
		enabled   int
		timeFrame int
		updatedAt int64
		maxVals   = make([]sql.NullInt64, len(maxColumns))
	)
	dest := []any{&enabled, &timeFrame, &updatedAt}
	for i := range maxVals {
		dest = append(dest, &maxVals[i])
	}

	err := d.db.QueryRowContext(ctx, query, communityID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cfg := &RateConfig{
		CommunityID: communityID,
		Enabled:     enabled != 0,
		TimeFrame:   timeFrame,
		Max:         make(map[string]int, len(maxColumns)),
		UpdatedAt:   updatedAt,
	}
	for i, col := range maxColumns {
		if maxVals[i].Valid {
			cfg.Max[col] = int(maxVals[i].Int64)
		}
	}
	return cfg, nil
}

// UpsertRateConfig writes only the columns present in patch. A missing row
// is created with schema defaults for every other column.
func (d *Database) UpsertRateConfig(ctx context.Context, communityID string, patch RateConfigPatch) error {
	cols := []string{"community_id", "updated_at"}
	args := []any{communityID, time.Now().Unix()}

	if patch.Enabled != nil {
		cols = append(cols, "enabled")
		args = append(args, boolToInt(*patch.Enabled))
	}
	if patch.TimeFrame != nil {
		cols = append(cols, "time_frame")
		args = append(args, *patch.TimeFrame)
	}
	for _, col := range maxColumns {
		if v, ok := patch.Max[col]; ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	for col := range patch.Max {
		if !isMaxColumn(col) {
			return fmt.Errorf("unknown rate_config column %q", col)
		}
	}

	updates := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(
		`INSERT INTO rate_config (%s) VALUES (%s)
		 ON CONFLICT(community_id) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

func isMaxColumn(col string) bool {
	for _, c := range maxColumns {
		if c == col {
			return true
		}
	}
	return false
}

// ===== Audit log =====

// AppendAuditLog inserts an entry; entries are never updated.
func (d *Database) AppendAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO audit_log (community_id, principal_id, event, extra_info, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.CommunityID, entry.PrincipalID, entry.Event, entry.ExtraInfo, entry.Timestamp,
	)
	if err != nil {
		return err
	}

	entry.ID, _ = res.LastInsertId()
	return nil
}

// RecentAuditLog returns the newest entries for a community.
func (d *Database) RecentAuditLog(ctx context.Context, communityID string, limit int) ([]*AuditLogEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, community_id, principal_id, event, extra_info, timestamp
		 FROM audit_log WHERE community_id = ? ORDER BY id DESC LIMIT ?`,
		communityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(&e.ID, &e.CommunityID, &e.PrincipalID, &e.Event, &e.ExtraInfo, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// ===== Quarantine snapshots =====

// UpsertSnapshot replaces any prior snapshot for the same pair.
func (d *Database) UpsertSnapshot(ctx context.Context, snap *QuarantineSnapshot) error {
	if snap.CreatedAt == 0 {
		snap.CreatedAt = time.Now().Unix()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO quarantine_snapshot (principal_id, community_id, grouping_ids, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(principal_id, community_id) DO UPDATE SET
		 	grouping_ids = excluded.grouping_ids,
		 	created_at = excluded.created_at`,
		snap.PrincipalID, snap.CommunityID, strings.Join(snap.GroupingIDs, ","), snap.CreatedAt,
	)
	return err
}

// GetSnapshot returns nil when the pair has no snapshot.
func (d *Database) GetSnapshot(ctx context.Context, communityID, principalID string) (*QuarantineSnapshot, error) {
	var (
		snap QuarantineSnapshot
		ids  string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT principal_id, community_id, grouping_ids, created_at
		 FROM quarantine_snapshot WHERE principal_id = ? AND community_id = ?`,
		principalID, communityID,
	).Scan(&snap.PrincipalID, &snap.CommunityID, &ids, &snap.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.GroupingIDs = splitIDs(ids)
	return &snap, nil
}

func (d *Database) DeleteSnapshot(ctx context.Context, communityID, principalID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM quarantine_snapshot WHERE principal_id = ? AND community_id = ?`,
		principalID, communityID,
	)
	return err
}

// ListSnapshots returns every restricted principal in a community.
func (d *Database) ListSnapshots(ctx context.Context, communityID string) ([]*QuarantineSnapshot, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT principal_id, community_id, grouping_ids, created_at
		 FROM quarantine_snapshot WHERE community_id = ? ORDER BY created_at DESC`,
		communityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*QuarantineSnapshot
	for rows.Next() {
		var (
			s   QuarantineSnapshot
			ids string
		)
		if err := rows.Scan(&s.PrincipalID, &s.CommunityID, &ids, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.GroupingIDs = splitIDs(ids)
		snaps = append(snaps, &s)
	}

	return snaps, rows.Err()
}

// ===== Automated account permission backups =====

func (d *Database) UpsertPermissionBackup(ctx context.Context, b *PermissionBackup) error {
	if b.CreatedAt == 0 {
		b.CreatedAt = time.Now().Unix()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO automated_account_permission_backup (account_id, grouping_id, community_id, permission_bitmask, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, grouping_id) DO UPDATE SET
		 	permission_bitmask = excluded.permission_bitmask,
		 	community_id = excluded.community_id,
		 	created_at = excluded.created_at`,
		b.AccountID, b.GroupingID, b.CommunityID, b.Permissions, b.CreatedAt,
	)
	return err
}

func (d *Database) ListPermissionBackups(ctx context.Context, communityID, accountID string) ([]*PermissionBackup, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT account_id, grouping_id, community_id, permission_bitmask, created_at
		 FROM automated_account_permission_backup
		 WHERE community_id = ? AND account_id = ? ORDER BY grouping_id`,
		communityID, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []*PermissionBackup
	for rows.Next() {
		var b PermissionBackup
		if err := rows.Scan(&b.AccountID, &b.GroupingID, &b.CommunityID, &b.Permissions, &b.CreatedAt); err != nil {
			return nil, err
		}
		backups = append(backups, &b)
	}

	return backups, rows.Err()
}

func (d *Database) DeletePermissionBackup(ctx context.Context, accountID, groupingID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM automated_account_permission_backup WHERE account_id = ? AND grouping_id = ?`,
		accountID, groupingID,
	)
	return err
}

// ===== Allow list =====

func (d *Database) UpsertAllowListEntry(ctx context.Context, e *AllowListEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO allow_list (community_id, principal_id, can_use_commands, added_by, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(community_id, principal_id) DO UPDATE SET
		 	can_use_commands = excluded.can_use_commands,
		 	added_by = excluded.added_by`,
		e.CommunityID, e.PrincipalID, boolToInt(e.CanUseCommands), e.AddedBy, e.CreatedAt,
	)
	return err
}

// IsAllowListed reports whether the principal has an active entry.
func (d *Database) IsAllowListed(ctx context.Context, communityID, principalID string) (bool, error) {
	var can int
	err := d.db.QueryRowContext(ctx,
		`SELECT can_use_commands FROM allow_list WHERE community_id = ? AND principal_id = ?`,
		communityID, principalID,
	).Scan(&can)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return can != 0, nil
}

func (d *Database) ListAllowList(ctx context.Context, communityID string) ([]*AllowListEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT community_id, principal_id, can_use_commands, added_by, created_at
		 FROM allow_list WHERE community_id = ? AND can_use_commands = 1 ORDER BY created_at`,
		communityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AllowListEntry
	for rows.Next() {
		var (
			e   AllowListEntry
			can int
		)
		if err := rows.Scan(&e.CommunityID, &e.PrincipalID, &can, &e.AddedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CanUseCommands = can != 0
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// ===== Lockdown backups =====

// ReplaceLockdownBackups stores the role bitmasks captured at lockdown,
// dropping any left over from an earlier lockdown.
func (d *Database) ReplaceLockdownBackups(ctx context.Context, communityID string, backups []*LockdownBackup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lockdown_backup WHERE community_id = ?`, communityID); err != nil {
		return err
	}
	for _, b := range backups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lockdown_backup (community_id, grouping_id, permission_bitmask) VALUES (?, ?, ?)`,
			communityID, b.GroupingID, b.Permissions,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *Database) ListLockdownBackups(ctx context.Context, communityID string) ([]*LockdownBackup, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT community_id, grouping_id, permission_bitmask FROM lockdown_backup WHERE community_id = ?`,
		communityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []*LockdownBackup
	for rows.Next() {
		var b LockdownBackup
		if err := rows.Scan(&b.CommunityID, &b.GroupingID, &b.Permissions); err != nil {
			return nil, err
		}
		backups = append(backups, &b)
	}

	return backups, rows.Err()
}

func (d *Database) ClearLockdownBackups(ctx context.Context, communityID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM lockdown_backup WHERE community_id = ?`, communityID)
	return err
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
