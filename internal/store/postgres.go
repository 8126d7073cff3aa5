package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/db"
	"github.com/sells-group/leadgen/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	average_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL,
	executed_at    TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id          UUID PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	identity    TEXT NOT NULL,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	priority    TEXT NOT NULL DEFAULT '',
	data        JSONB NOT NULL,
	UNIQUE (campaign_id, identity)
);

CREATE INDEX IF NOT EXISTS idx_campaigns_started_at ON campaigns(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_campaign_position ON leads(campaign_id, position);
`

var leadColumns = []string{"id", "campaign_id", "identity", "position", "name", "score", "priority", "data"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
	rows, err := leadRows(c.Leads)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, industry = EXCLUDED.industry, mode = EXCLUDED.mode,
			location = EXCLUDED.location, search_query = EXCLUDED.search_query,
			zip_start = EXCLUDED.zip_start, zip_end = EXCLUDED.zip_end,
			batch_size = EXCLUDED.batch_size, max_results = EXCLUDED.max_results,
			your_service = EXCLUDED.your_service, content_style = EXCLUDED.content_style,
			language = EXCLUDED.language, status = EXCLUDED.status, progress = EXCLUDED.progress,
			total_leads = EXCLUDED.total_leads, priority_leads = EXCLUDED.priority_leads,
			average_score = EXCLUDED.average_score, started_at = EXCLUDED.started_at,
			executed_at = EXCLUDED.executed_at, updated_at = now()`,
		c.ID, c.Name, c.Industry, string(c.Mode), c.Location, c.SearchQuery, c.ZipStart, c.ZipEnd,
		c.BatchSize, c.MaxResults, c.YourService, c.ContentStyle, c.Language, string(c.Status), c.Progress,
		c.Stats.TotalLeads, c.Stats.PriorityLeads, c.Stats.AverageScore, c.StartedAt, c.ExecutedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert campaign %s", c.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM leads WHERE campaign_id = $1`, c.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear leads for %s", c.ID)
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{uuid.New(), c.ID, r.identity, i, r.name, r.score, r.priority, r.data}
	}
	if _, err := db.CopyFrom(ctx, tx, "leads", leadColumns, copyRows); err != nil {
		return eris.Wrapf(err, "postgres: insert leads for %s", c.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanPgCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate campaigns")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanPgCampaign(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return c, nil
}

func (s *PostgresStore) LoadLeads(ctx context.Context, id string) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM leads WHERE campaign_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load leads for %s", id)
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		l, err := decodeLead(data)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) UpdateCampaign(ctx context.Context, id string, upd CampaignUpdate) (bool, error) {
	if upd.Name == nil {
		var exists int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM campaigns WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return err == nil, eris.Wrapf(err, "postgres: lookup campaign %s", id)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET name = $1, updated_at = now() WHERE id = $2`, *upd.Name, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update campaign %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteCampaign(ctx context.Context, id string) (bool, error) {
	// Leads go with the campaign through ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete campaign %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPgCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var mode, status string
	var executed *time.Time

	err := row.Scan(&c.ID, &c.Name, &c.Industry, &mode, &c.Location, &c.SearchQuery, &c.ZipStart, &c.ZipEnd,
		&c.BatchSize, &c.MaxResults, &c.YourService, &c.ContentStyle, &c.Language, &status, &c.Progress,
		&c.Stats.TotalLeads, &c.Stats.PriorityLeads, &c.Stats.AverageScore, &c.StartedAt, &executed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan campaign")
	}
	c.Mode = model.Mode(mode)
	c.Status = model.Status(status)
	c.ExecutedAt = executed
	return &c, nil
}
