// Package enrich scores leads and generates outreach content with Claude.
package enrich

import (
	"context"

	"github.com/sells-group/leadgen/internal/model"
)

// Brief describes the campaign a piece of content is written for.
type Brief struct {
	Industry string
	Service  string
	Style    string
	Language string
}

// Gateway is the enrichment capability used by the campaign orchestrator.
type Gateway interface {
	// ScoreLeads returns leads in the same order with Intelligence set.
	ScoreLeads(ctx context.Context, leads []model.Lead, industry string) ([]model.Lead, error)
	// GenerateContent returns outreach text keyed by channel.
	GenerateContent(ctx context.Context, lead model.Lead, brief Brief) (map[string]string, error)
}

// Channels generated for each lead.
var Channels = []string{"email", "whatsapp", "linkedin"}
