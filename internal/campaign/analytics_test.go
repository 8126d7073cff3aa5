package campaign

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
)

func seedExecuted(t *testing.T, st *memStore, id, industry string, started time.Time, leads []model.Lead) {
	t.Helper()
	executed := started.Add(time.Minute)
	require.NoError(t, st.SaveCampaign(context.Background(), &model.Campaign{
		ID:         id,
		Name:       id,
		Industry:   industry,
		Mode:       model.ModeStandard,
		Status:     model.StatusCompleted,
		Leads:      leads,
		Stats:      ComputeStats(leads),
		StartedAt:  started,
		ExecutedAt: &executed,
	}))
}

func TestDashboard(t *testing.T) {
	st := newMemStore()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i := range 7 {
		seedExecuted(t, st, fmt.Sprintf("campaign_%d", i), "dental", now.Add(time.Duration(i)*time.Hour),
			[]model.Lead{scoredLead("a", 90), scoredLead("b", 40)})
	}

	view, err := Dashboard(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, Overview{
		TotalCampaigns:     7,
		TotalLeads:         14,
		TotalPriorityLeads: 7,
		AverageScore:       65,
	}, view.Overview)
	require.Len(t, view.RecentActivity, recentActivityLimit)
	assert.Equal(t, "campaign_6", view.RecentActivity[0].ID)
	assert.Equal(t, 2, view.RecentActivity[0].TotalLeads)
	assert.Equal(t, 1, view.RecentActivity[0].PriorityLeads)
}

func TestDashboard_Empty(t *testing.T) {
	view, err := Dashboard(context.Background(), newMemStore())
	require.NoError(t, err)
	assert.Equal(t, Overview{}, view.Overview)
	assert.NotNil(t, view.RecentActivity)
	assert.Empty(t, view.RecentActivity)
}

func TestAnalytics(t *testing.T) {
	st := newMemStore()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	seedExecuted(t, st, "campaign_recent", "dental", now.Add(-24*time.Hour),
		[]model.Lead{scoredLead("a", 90), scoredLead("b", 60), {Name: "unscored"}})
	seedExecuted(t, st, "campaign_old", "dental", now.Add(-60*24*time.Hour),
		[]model.Lead{scoredLead("c", 20)})
	seedExecuted(t, st, "campaign_hvac", "", now.Add(-2*time.Hour),
		[]model.Lead{scoredLead("d", 85), scoredLead("e", 75)})

	view, err := Analytics(context.Background(), st, now)
	require.NoError(t, err)

	// dental averages the per-campaign averages: (50 + 20) / 2.
	assert.Equal(t, IndustryStats{Campaigns: 2, TotalLeads: 4, AverageScore: 35}, view.Industries["dental"])
	assert.Equal(t, IndustryStats{Campaigns: 1, TotalLeads: 2, AverageScore: 80}, view.Industries["unknown"])

	assert.Equal(t, map[model.Priority]int{
		model.PriorityHigh:   3,
		model.PriorityMedium: 1,
		model.PriorityLow:    2,
	}, view.QualityDistribution)

	assert.Equal(t, Trends{
		TotalCampaigns:  3,
		RecentCampaigns: 2,
		TotalLeads:      6,
		AverageScore:    50,
	}, view.Trends)
}

func TestAnalytics_Empty(t *testing.T) {
	view, err := Analytics(context.Background(), newMemStore(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, view.Industries)
	assert.Equal(t, 0, view.QualityDistribution[model.PriorityHigh])
	assert.Equal(t, Trends{}, view.Trends)
}

func TestAggregates_ListError(t *testing.T) {
	st := newMemStore()
	st.listErr = eris.New("disk gone")

	_, err := Dashboard(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign: dashboard")

	_, err = Analytics(context.Background(), st, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign: analytics")
}
