package campaign

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/identity"
	"github.com/sells-group/leadgen/internal/model"
)

// MergeStore is the persistence a merge reads from and writes to.
type MergeStore interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	LoadLeads(ctx context.Context, id string) ([]model.Lead, error)
	Saver
}

// Merge combines the leads of completed campaigns into a new campaign named
// name and returns its id. Leads keep their enrichment; the first campaign
// to contribute an identity wins.
func Merge(ctx context.Context, st MergeStore, ids []string, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &model.ValidationError{Field: "name", Reason: "is required"}
	}
	ids = distinct(ids)
	if len(ids) < 2 {
		return "", &model.ValidationError{Field: "campaign_ids", Reason: "must name at least two campaigns"}
	}

	var industry string
	set := identity.NewSet(0)
	for i, id := range ids {
		src, err := st.GetCampaign(ctx, id)
		if err != nil {
			return "", eris.Wrapf(err, "campaign: merge source %s", id)
		}
		if i == 0 {
			industry = src.Industry
		}
		leads, err := st.LoadLeads(ctx, id)
		if err != nil {
			return "", eris.Wrapf(err, "campaign: merge source %s", id)
		}
		set.AddAll(leads)
	}

	now := time.Now().UTC()
	leads := set.Leads()
	merged := &model.Campaign{
		ID:          model.NewCampaignID(name, now),
		Name:        name,
		Industry:    industry,
		Mode:        model.ModeMerge,
		Location:    "Merged Dataset",
		SearchQuery: "Merged",
		MaxResults:  len(leads),
		YourService: "Merged Dataset",
		Status:      model.StatusCompleted,
		Progress:    100,
		Leads:       leads,
		Stats:       ComputeStats(leads),
		StartedAt:   now,
		ExecutedAt:  &now,
	}
	if err := st.SaveCampaign(ctx, merged); err != nil {
		return "", eris.Wrap(err, "campaign: save merged campaign")
	}

	zap.L().Info("merged campaigns",
		zap.String("campaign_id", merged.ID),
		zap.Strings("sources", ids),
		zap.Int("leads", len(leads)),
	)
	return merged.ID, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
