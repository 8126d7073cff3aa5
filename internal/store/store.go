// Package store persists campaigns and their leads.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/db"
	"github.com/sells-group/leadgen/internal/identity"
	"github.com/sells-group/leadgen/internal/model"
)

// ErrNotFound is returned when a campaign id does not exist.
var ErrNotFound = eris.New("store: campaign not found")

// CampaignUpdate carries the mutable campaign fields. Nil fields are left as is.
type CampaignUpdate struct {
	Name *string `json:"name,omitempty"`
}

// Store defines the persistence interface for campaigns.
type Store interface {
	// SaveCampaign upserts the campaign and replaces its leads atomically.
	SaveCampaign(ctx context.Context, c *model.Campaign) error
	// ListCampaigns returns campaign metadata without leads, newest first.
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	// GetCampaign returns campaign metadata without leads.
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	// LoadLeads returns a campaign's leads in discovery order.
	LoadLeads(ctx context.Context, id string) ([]model.Lead, error)
	UpdateCampaign(ctx context.Context, id string, upd CampaignUpdate) (bool, error)
	DeleteCampaign(ctx context.Context, id string) (bool, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DatabaseURL, poolConfig(cfg))
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func poolConfig(cfg config.StoreConfig) *db.PoolConfig {
	return &db.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns}
}

// leadRow is a lead flattened for insertion.
type leadRow struct {
	identity string
	name     string
	score    float64
	priority string
	data     string
}

func leadRows(leads []model.Lead) ([]leadRow, error) {
	rows := make([]leadRow, 0, len(leads))
	for _, l := range leads {
		data, err := json.Marshal(l)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal lead %q", l.Name)
		}
		rows = append(rows, leadRow{
			identity: identity.Derive(l),
			name:     l.Name,
			score:    l.Score(),
			priority: string(l.Priority()),
			data:     string(data),
		})
	}
	return rows, nil
}

func decodeLead(data []byte) (model.Lead, error) {
	var l model.Lead
	if err := json.Unmarshal(data, &l); err != nil {
		return l, eris.Wrap(err, "store: unmarshal lead")
	}
	return l, nil
}

type scannable interface {
	Scan(dest ...any) error
}
