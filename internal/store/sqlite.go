package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	industry       TEXT NOT NULL,
	mode           TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	search_query   TEXT NOT NULL,
	zip_start      TEXT NOT NULL DEFAULT '',
	zip_end        TEXT NOT NULL DEFAULT '',
	batch_size     INTEGER NOT NULL DEFAULT 0,
	max_results    INTEGER NOT NULL DEFAULT 0,
	your_service   TEXT NOT NULL DEFAULT '',
	content_style  TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	total_leads    INTEGER NOT NULL DEFAULT 0,
	priority_leads INTEGER NOT NULL DEFAULT 0,
	average_score  REAL NOT NULL DEFAULT 0,
	started_at     DATETIME NOT NULL,
	executed_at    DATETIME,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	identity    TEXT NOT NULL,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	score       REAL NOT NULL DEFAULT 0,
	priority    TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	UNIQUE (campaign_id, identity)
);

CREATE INDEX IF NOT EXISTS idx_campaigns_started_at ON campaigns(started_at);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_position ON leads(campaign_id, position);
`

const campaignColumns = `id, name, industry, mode, location, search_query, zip_start, zip_end,
	batch_size, max_results, your_service, content_style, language, status, progress,
	total_leads, priority_leads, average_score, started_at, executed_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
	rows, err := leadRows(c.Leads)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, industry = excluded.industry, mode = excluded.mode,
			location = excluded.location, search_query = excluded.search_query,
			zip_start = excluded.zip_start, zip_end = excluded.zip_end,
			batch_size = excluded.batch_size, max_results = excluded.max_results,
			your_service = excluded.your_service, content_style = excluded.content_style,
			language = excluded.language, status = excluded.status, progress = excluded.progress,
			total_leads = excluded.total_leads, priority_leads = excluded.priority_leads,
			average_score = excluded.average_score, started_at = excluded.started_at,
			executed_at = excluded.executed_at, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Industry, string(c.Mode), c.Location, c.SearchQuery, c.ZipStart, c.ZipEnd,
		c.BatchSize, c.MaxResults, c.YourService, c.ContentStyle, c.Language, string(c.Status), c.Progress,
		c.Stats.TotalLeads, c.Stats.PriorityLeads, c.Stats.AverageScore, c.StartedAt.UTC(), nullTime(c.ExecutedAt), now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert campaign %s", c.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE campaign_id = ?`, c.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear leads for %s", c.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, campaign_id, identity, position, name, score, priority, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare lead insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), c.ID, r.identity, i, r.name, r.score, r.priority, r.data); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %q", r.name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate campaigns")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) LoadLeads(ctx context.Context, id string) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM leads WHERE campaign_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load leads for %s", id)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Lead
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		l, err := decodeLead([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) UpdateCampaign(ctx context.Context, id string, upd CampaignUpdate) (bool, error) {
	if upd.Name == nil {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return err == nil, eris.Wrapf(err, "sqlite: lookup campaign %s", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, updated_at = ? WHERE id = ?`,
		*upd.Name, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update campaign %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin delete")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE campaign_id = ?`, id); err != nil {
		return false, eris.Wrapf(err, "sqlite: delete leads for %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete campaign %s", id)
	}
	ok, err := checkRowsAffected(res)
	if err != nil || !ok {
		return false, err
	}
	return true, eris.Wrap(tx.Commit(), "sqlite: commit delete")
}

// helpers

func checkRowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var mode, status string
	var executed sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &c.Industry, &mode, &c.Location, &c.SearchQuery, &c.ZipStart, &c.ZipEnd,
		&c.BatchSize, &c.MaxResults, &c.YourService, &c.ContentStyle, &c.Language, &status, &c.Progress,
		&c.Stats.TotalLeads, &c.Stats.PriorityLeads, &c.Stats.AverageScore, &c.StartedAt, &executed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan campaign")
	}
	c.Mode = model.Mode(mode)
	c.Status = model.Status(status)
	if executed.Valid {
		t := executed.Time
		c.ExecutedAt = &t
	}
	return &c, nil
}
