package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gavel/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
	db *sql.DB
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out SQLite-backed providers.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
		db: sf.DB,
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bans (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		reason         TEXT    NOT NULL DEFAULT '',
		banned_by      INTEGER NOT NULL DEFAULT -1,
		banned_by_name TEXT    NOT NULL DEFAULT '',
		banned_at      TEXT    NOT NULL DEFAULT (datetime('now')),
		unban_at       TEXT,
		unbanned       INTEGER NOT NULL DEFAULT 0,
		ban_data       TEXT    NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ban_ipids (
		ban_id INTEGER NOT NULL REFERENCES bans(id),
		ipid   INTEGER NOT NULL,
		PRIMARY KEY (ban_id, ipid)
	);

	CREATE TABLE IF NOT EXISTS ban_hdids (
		ban_id INTEGER NOT NULL REFERENCES bans(id),
		hdid   TEXT    NOT NULL CHECK(length(hdid) > 0),
		PRIMARY KEY (ban_id, hdid)
	);

	CREATE TABLE IF NOT EXISTS moderation_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id    TEXT    NOT NULL UNIQUE,
		name        TEXT    NOT NULL CHECK(length(name) > 0),
		actor_id    INTEGER NOT NULL DEFAULT -1,
		actor_ipid  INTEGER NOT NULL DEFAULT 0,
		actor_name  TEXT    NOT NULL DEFAULT '',
		area_id     INTEGER NOT NULL DEFAULT 0,
		target_id   INTEGER NOT NULL DEFAULT -1,
		target_ipid INTEGER NOT NULL DEFAULT 0,
		message     TEXT    NOT NULL DEFAULT '',
		created_at  TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_ban_ipids_ipid ON ban_ipids (ipid)",
				"CREATE INDEX IF NOT EXISTS idx_ban_hdids_hdid ON ban_hdids (hdid)",
				"CREATE INDEX IF NOT EXISTS idx_moderation_log_target ON moderation_log (target_ipid)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Bans ----

// CreateBan inserts ban with its identity set in one transaction and assigns
// its ID.
func (p *nonTxProvider) CreateBan(ctx context.Context, ban *model.Ban) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	if err := insertBan(ctx, tx, ban); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: create ban: commit: %w", err)
	}
	return nil
}

// CreateBan inserts ban inside the open transaction.
func (p *txProvider) CreateBan(ctx context.Context, ban *model.Ban) error {
	return insertBan(ctx, p.tx, ban)
}

func insertBan(ctx context.Context, db DB, ban *model.Ban) error {
	data, err := model.EncodeExtension(ban.Extension)
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	if ban.BannedAt.IsZero() {
		ban.BannedAt = time.Now().UTC()
	}
	var unbanAt *string
	if !ban.UnbanAt.IsZero() {
		s := formatDBTime(ban.UnbanAt)
		unbanAt = &s
	}
	res, err := db.ExecContext(ctx,
		"INSERT INTO bans (reason, banned_by, banned_by_name, banned_at, unban_at, unbanned, ban_data) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ban.Reason, int(ban.BannedBy), ban.BannedByName, formatDBTime(ban.BannedAt), unbanAt, boolInt(ban.Unbanned), data)
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	ban.ID, _ = res.LastInsertId()
	for _, ipid := range ban.IPIDs {
		if err := addBanIPID(ctx, db, ban.ID, ipid); err != nil {
			return err
		}
	}
	for _, hdid := range ban.HDIDs {
		if err := addBanHDID(ctx, db, ban.ID, hdid); err != nil {
			return err
		}
	}
	return nil
}

// AddBanIPID adds ipid to a ban's identity set. Adding a covered IPID is a
// no-op.
func (s *baseProvider) AddBanIPID(ctx context.Context, id int64, ipid int64) error {
	return addBanIPID(ctx, s.DB, id, ipid)
}

// AddBanHDID adds hdid to a ban's identity set.
func (s *baseProvider) AddBanHDID(ctx context.Context, id int64, hdid string) error {
	return addBanHDID(ctx, s.DB, id, hdid)
}

func addBanIPID(ctx context.Context, db DB, id int64, ipid int64) error {
	if _, err := db.ExecContext(ctx, "INSERT INTO ban_ipids (ban_id, ipid) VALUES (?, ?) ON CONFLICT(ban_id, ipid) DO NOTHING", id, ipid); err != nil {
		return fmt.Errorf("datastore: add ban ipid: %w", err)
	}
	return nil
}

func addBanHDID(ctx context.Context, db DB, id int64, hdid string) error {
	if _, err := db.ExecContext(ctx, "INSERT INTO ban_hdids (ban_id, hdid) VALUES (?, ?) ON CONFLICT(ban_id, hdid) DO NOTHING", id, hdid); err != nil {
		return fmt.Errorf("datastore: add ban hdid: %w", err)
	}
	return nil
}

// SetBanUnbanned sets the unbanned flag.
func (s *baseProvider) SetBanUnbanned(ctx context.Context, id int64) error {
	if _, err := s.ExecContext(ctx, "UPDATE bans SET unbanned = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("datastore: unban: %w", err)
	}
	return nil
}

const banColumns = "id, reason, banned_by, banned_by_name, banned_at, unban_at, unbanned, ban_data"

// GetBan retrieves a ban by ID. Returns (nil, nil) if not found.
func (s *baseProvider) GetBan(ctx context.Context, id int64) (*model.Ban, error) {
	bans, err := s.queryBans(ctx, "SELECT "+banColumns+" FROM bans WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("datastore: get ban: %w", err)
	}
	if len(bans) == 0 {
		return nil, nil
	}
	return &bans[0], nil
}

// ListBansByIPID returns every ban covering ipid, in ID order.
func (s *baseProvider) ListBansByIPID(ctx context.Context, ipid int64) ([]model.Ban, error) {
	bans, err := s.queryBans(ctx,
		"SELECT "+banColumns+" FROM bans WHERE id IN (SELECT ban_id FROM ban_ipids WHERE ipid = ?) ORDER BY id", ipid)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans by ipid: %w", err)
	}
	return bans, nil
}

// ListBansByHDID returns every ban covering hdid, in ID order.
func (s *baseProvider) ListBansByHDID(ctx context.Context, hdid string) ([]model.Ban, error) {
	bans, err := s.queryBans(ctx,
		"SELECT "+banColumns+" FROM bans WHERE id IN (SELECT ban_id FROM ban_hdids WHERE hdid = ?) ORDER BY id", hdid)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans by hdid: %w", err)
	}
	return bans, nil
}

// RecentBans returns the newest bans first.
func (s *baseProvider) RecentBans(ctx context.Context, limit int) ([]model.Ban, error) {
	bans, err := s.queryBans(ctx, "SELECT "+banColumns+" FROM bans ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: recent bans: %w", err)
	}
	return bans, nil
}

// ListBans returns every ban in ID order.
func (s *baseProvider) ListBans(ctx context.Context) ([]model.Ban, error) {
	bans, err := s.queryBans(ctx, "SELECT "+banColumns+" FROM bans ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	return bans, nil
}

func (s *baseProvider) queryBans(ctx context.Context, query string, args ...any) ([]model.Ban, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var bans []model.Ban
	for rows.Next() {
		var (
			b        model.Ban
			bannedBy int
			bannedAt string
			unbanAt  sql.NullString
			unbanned int
			data     string
		)
		if err := rows.Scan(&b.ID, &b.Reason, &bannedBy, &b.BannedByName, &bannedAt, &unbanAt, &unbanned, &data); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		b.BannedBy = model.SessionID(bannedBy)
		b.Unbanned = unbanned != 0
		b.Extension = model.DecodeExtension(data)
		if b.BannedAt, err = parseDBTime(bannedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		if unbanAt.Valid {
			if b.UnbanAt, err = parseDBTime(unbanAt.String); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan ban: %w", err)
			}
		}
		bans = append(bans, b)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bans {
		if err := s.loadIdentities(ctx, &bans[i]); err != nil {
			return nil, err
		}
	}
	return bans, nil
}

func (s *baseProvider) loadIdentities(ctx context.Context, ban *model.Ban) error {
	rows, err := s.QueryContext(ctx, "SELECT ipid FROM ban_ipids WHERE ban_id = ? ORDER BY rowid", ban.ID)
	if err != nil {
		return fmt.Errorf("load ban ipids: %w", err)
	}
	for rows.Next() {
		var ipid int64
		if err := rows.Scan(&ipid); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan ban ipid: %w", err)
		}
		ban.IPIDs = append(ban.IPIDs, ipid)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.QueryContext(ctx, "SELECT hdid FROM ban_hdids WHERE ban_id = ? ORDER BY rowid", ban.ID)
	if err != nil {
		return fmt.Errorf("load ban hdids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var hdid string
		if err := rows.Scan(&hdid); err != nil {
			return fmt.Errorf("scan ban hdid: %w", err)
		}
		ban.HDIDs = append(ban.HDIDs, hdid)
	}
	return rows.Err()
}

// ---- Moderation log ----

// LogAction appends an entry to the moderation log.
func (s *baseProvider) LogAction(ctx context.Context, action model.Action) error {
	if strings.TrimSpace(action.Name) == "" {
		return fmt.Errorf("datastore: log action: %w: empty action name", model.ErrInvalidArgument)
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO moderation_log (event_id, name, actor_id, actor_ipid, actor_name, area_id, target_id, target_ipid, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.EventID, action.Name, int(action.ActorID), action.ActorIPID, action.ActorName, action.AreaID,
		int(action.TargetID), action.TargetIP, action.Message, formatDBTime(action.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: log action: %w", err)
	}
	return nil
}

// ListActions returns log entries, newest first.
func (s *baseProvider) ListActions(ctx context.Context, filters model.ActionFilters) ([]model.Action, error) {
	query := `
		SELECT event_id, name, actor_id, actor_ipid, actor_name, area_id, target_id, target_ipid, message, created_at
		FROM moderation_log
		WHERE (? IS NULL OR name = ?)
		AND (? IS NULL OR actor_ipid = ?)
		AND (? IS NULL OR target_ipid = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, 100)
		OFFSET COALESCE(?, 0)
	`

	rows, err := s.QueryContext(
		ctx,
		query,
		filters.Name, filters.Name,
		filters.ActorIPID, filters.ActorIPID,
		filters.TargetIPID, filters.TargetIPID,
		filters.PageSize,
		filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.Action
	for rows.Next() {
		var (
			a         model.Action
			actorID   int
			targetID  int
			createdAt string
		)
		if err := rows.Scan(&a.EventID, &a.Name, &actorID, &a.ActorIPID, &a.ActorName, &a.AreaID, &targetID, &a.TargetIP, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan action: %w", err)
		}
		a.ActorID = model.SessionID(actorID)
		a.TargetID = model.SessionID(targetID)
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan action: %w", err)
		}
		a.CreatedAt = parsed
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
