package database

// RateConfig is a stored rate_config row.
type RateConfig struct {
	CommunityID string
	Enabled     bool
	TimeFrame   int            // seconds
	Max         map[string]int // keyed by max_<type> column; unset columns are absent
	UpdatedAt   int64
}

// RateConfigPatch carries the columns a caller wants to change. Nil
// fields and absent map keys keep their stored value.
type RateConfigPatch struct {
	Enabled   *bool
	TimeFrame *int
	Max       map[string]int
}

// AuditLogEntry is an append-only audit_log row.
type AuditLogEntry struct {
	ID          int64
	CommunityID string
	PrincipalID string
	Event       string
	ExtraInfo   string
	Timestamp   int64
}

// QuarantineSnapshot holds the roles a principal had before restriction.
type QuarantineSnapshot struct {
	PrincipalID string
	CommunityID string
	GroupingIDs []string
	CreatedAt   int64
}

// PermissionBackup is the bitmask a role carried before it was zeroed.
type PermissionBackup struct {
	AccountID   string
	CommunityID string
	GroupingID  string
	Permissions int64
	CreatedAt   int64
}

// AllowListEntry marks a principal as trusted within a community.
type AllowListEntry struct {
	CommunityID    string
	PrincipalID    string
	CanUseCommands bool
	AddedBy        string
	CreatedAt      int64
}

// LockdownBackup is a role's bitmask saved before a community lockdown.
type LockdownBackup struct {
	CommunityID string
	GroupingID  string
	Permissions int64
}
