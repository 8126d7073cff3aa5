package campaign

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// AnalyticsStore is the read side of persistence the aggregates need.
type AnalyticsStore interface {
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	LoadLeads(ctx context.Context, id string) ([]model.Lead, error)
}

const (
	recentActivityLimit = 5
	trendWindow         = 30 * 24 * time.Hour
)

// Overview totals every stored campaign.
type Overview struct {
	TotalCampaigns     int     `json:"total_campaigns"`
	TotalLeads         int     `json:"total_leads"`
	TotalPriorityLeads int     `json:"total_priority_leads"`
	AverageScore       float64 `json:"average_score"`
}

// Activity is one entry of the recent campaign feed.
type Activity struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Mode          model.Mode `json:"mode"`
	Industry      string     `json:"industry"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	TotalLeads    int        `json:"total_leads"`
	PriorityLeads int        `json:"priority_leads"`
}

// DashboardView is the summary shown on the landing page.
type DashboardView struct {
	Overview       Overview   `json:"overview"`
	RecentActivity []Activity `json:"recent_activity"`
}

// IndustryStats aggregates the campaigns of one industry.
type IndustryStats struct {
	Campaigns    int     `json:"campaigns"`
	TotalLeads   int     `json:"total_leads"`
	AverageScore float64 `json:"average_score"`
}

// Trends summarises campaign volume, with the recent count taken over the
// last 30 days of executions.
type Trends struct {
	TotalCampaigns  int     `json:"total_campaigns"`
	RecentCampaigns int     `json:"recent_campaigns"`
	TotalLeads      int     `json:"total_leads"`
	AverageScore    float64 `json:"average_score"`
}

// AnalyticsView breaks stored campaigns down by industry and lead quality.
type AnalyticsView struct {
	Industries          map[string]IndustryStats `json:"industries"`
	QualityDistribution map[model.Priority]int   `json:"quality_distribution"`
	Trends              Trends                   `json:"trends"`
}

// Dashboard totals the stored campaigns and lists the newest ones.
func Dashboard(ctx context.Context, st AnalyticsStore) (DashboardView, error) {
	campaigns, err := st.ListCampaigns(ctx)
	if err != nil {
		return DashboardView{}, eris.Wrap(err, "campaign: dashboard")
	}

	view := DashboardView{
		Overview:       overview(campaigns),
		RecentActivity: make([]Activity, 0, recentActivityLimit),
	}
	for _, c := range campaigns[:min(len(campaigns), recentActivityLimit)] {
		view.RecentActivity = append(view.RecentActivity, Activity{
			ID:            c.ID,
			Name:          c.Name,
			Mode:          c.Mode,
			Industry:      c.Industry,
			ExecutedAt:    c.ExecutedAt,
			TotalLeads:    c.Stats.TotalLeads,
			PriorityLeads: c.Stats.PriorityLeads,
		})
	}
	return view, nil
}

// Analytics aggregates stored campaigns per industry and counts leads per
// priority. Unscored leads count as LOW.
func Analytics(ctx context.Context, st AnalyticsStore, now time.Time) (AnalyticsView, error) {
	campaigns, err := st.ListCampaigns(ctx)
	if err != nil {
		return AnalyticsView{}, eris.Wrap(err, "campaign: analytics")
	}

	view := AnalyticsView{
		Industries: make(map[string]IndustryStats),
		QualityDistribution: map[model.Priority]int{
			model.PriorityHigh:   0,
			model.PriorityMedium: 0,
			model.PriorityLow:    0,
		},
	}
	scoreSums := make(map[string]float64)
	cutoff := now.Add(-trendWindow)

	for _, c := range campaigns {
		industry := c.Industry
		if industry == "" {
			industry = "unknown"
		}
		s := view.Industries[industry]
		s.Campaigns++
		s.TotalLeads += c.Stats.TotalLeads
		view.Industries[industry] = s
		scoreSums[industry] += c.Stats.AverageScore

		if c.ExecutedAt != nil && !c.ExecutedAt.Before(cutoff) {
			view.Trends.RecentCampaigns++
		}

		leads, err := st.LoadLeads(ctx, c.ID)
		if err != nil {
			return AnalyticsView{}, eris.Wrapf(err, "campaign: analytics leads of %s", c.ID)
		}
		for _, l := range leads {
			p := l.Priority()
			if p == "" {
				p = model.PriorityLow
			}
			view.QualityDistribution[p]++
		}
	}

	for industry, s := range view.Industries {
		s.AverageScore = round1(scoreSums[industry] / float64(s.Campaigns))
		view.Industries[industry] = s
	}

	o := overview(campaigns)
	view.Trends.TotalCampaigns = o.TotalCampaigns
	view.Trends.TotalLeads = o.TotalLeads
	view.Trends.AverageScore = o.AverageScore
	return view, nil
}

func overview(campaigns []model.Campaign) Overview {
	o := Overview{TotalCampaigns: len(campaigns)}
	if len(campaigns) == 0 {
		return o
	}
	var sum float64
	for _, c := range campaigns {
		o.TotalLeads += c.Stats.TotalLeads
		o.TotalPriorityLeads += c.Stats.PriorityLeads
		sum += c.Stats.AverageScore
	}
	o.AverageScore = round1(sum / float64(len(campaigns)))
	return o
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
