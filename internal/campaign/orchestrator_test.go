package campaign

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/collect"
	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/enrich"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/zipcode"
)

func TestOrchestrator_StandardCampaign(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{
		Leads:  leadsNamed("Dental", 3),
		Status: collect.StatusExhausted,
	}
	h.gateway.scores = map[string]float64{"Dental 0": 80, "Dental 1": 40}

	id, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "campaign_austin_dentists_"))

	events := h.drain()
	require.NotEmpty(t, events)
	assert.IsType(t, model.Started{}, events[0])
	last, ok := events[len(events)-1].(model.Completed)
	require.True(t, ok, "last event %T", events[len(events)-1])
	assert.Equal(t, id, last.ID)
	assert.Equal(t, model.Stats{TotalLeads: 3, PriorityLeads: 1, AverageScore: 40}, last.Stats)
	assert.Equal(t, []int{50, 50, 80}, progressOf(events))

	saved := h.store.only(t)
	assert.Equal(t, id, saved.ID)
	assert.Equal(t, model.StatusCompleted, saved.Status)
	assert.Equal(t, 100, saved.Progress)
	assert.Equal(t, model.DefaultMaxResults, saved.MaxResults)
	require.NotNil(t, saved.ExecutedAt)
	require.Len(t, saved.Leads, 3)
	assert.Equal(t, "Dental 0", saved.Leads[0].Name)
	assert.Equal(t, model.PriorityHigh, saved.Leads[0].Priority())
	assert.Contains(t, saved.Leads[0].Intelligence.Content["email"], "web design")
	assert.Equal(t, "Pending analysis", saved.Leads[2].Intelligence.Analysis)

	_, running := h.orch.Status(id)
	assert.False(t, running)
	assert.Empty(t, h.orch.Active())
}

func TestOrchestrator_BatchIsolation(t *testing.T) {
	h := newHarness(Config{})
	shared := leadsNamed("Shared", 2)
	h.runner.results["dentist 78701"] = collect.Result{
		Leads:  append(leadsNamed("North", 2), shared...),
		Status: collect.StatusExhausted,
	}
	h.runner.results["dentist 78702"] = collect.Result{
		Leads:  leadsNamed("Partial", 1),
		Status: collect.StatusError,
		Err:    errors.New("browser crashed"),
	}
	h.runner.results["dentist 78703"] = collect.Result{
		Leads:  append(shared, leadsNamed("South", 1)...),
		Status: collect.StatusTargetReached,
	}

	_, err := h.orch.Start(context.Background(), gridRequest("78701", "78703", 2))
	require.NoError(t, err)
	events := h.drain()

	_, failed := events[len(events)-1].(model.Failed)
	assert.False(t, failed)

	saved := h.store.only(t)
	names := make([]string, len(saved.Leads))
	for i, l := range saved.Leads {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"North 0", "North 1", "Shared 0", "Shared 1", "Partial 0", "South 0"}, names)
	assert.Len(t, h.runner.calls, 3)
}

func TestOrchestrator_PanickingSessionIsIsolated(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist 78701"] = collect.Result{
		Leads:  leadsNamed("North", 2),
		Status: collect.StatusExhausted,
	}
	h.runner.panics = map[string]bool{"dentist 78702": true}
	h.runner.results["dentist 78703"] = collect.Result{
		Leads:  leadsNamed("South", 1),
		Status: collect.StatusExhausted,
	}

	id, err := h.orch.Start(context.Background(), gridRequest("78701", "78703", 2))
	require.NoError(t, err)
	events := h.drain()

	done, ok := events[len(events)-1].(model.Completed)
	require.True(t, ok, "last event %#v", events[len(events)-1])
	assert.Equal(t, id, done.ID)
	assert.Equal(t, 3, done.Stats.TotalLeads)
	assert.Len(t, h.runner.calls, 3)

	saved := h.store.only(t)
	assert.Equal(t, model.StatusCompleted, saved.Status)
	assert.Equal(t, "Zip Range 78701-78703", saved.Location)
}

func TestOrchestrator_UnboundedMaxResults(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{
		Leads:  leadsNamed("Austin", 3),
		Status: collect.StatusExhausted,
	}
	req := standardRequest()
	req.MaxResults = math.MaxInt

	_, err := h.orch.Start(context.Background(), req)
	require.NoError(t, err)
	events := h.drain()

	_, ok := events[len(events)-1].(model.Completed)
	require.True(t, ok)
	assert.Len(t, h.store.only(t).Leads, 3)
}

func TestOrchestrator_ScrapeProgressPerBatch(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.orch.Start(context.Background(), gridRequest("78701", "78705", 2))
	require.NoError(t, err)
	events := h.drain()

	// Three batches, then analysis and content generation.
	assert.Equal(t, []int{17, 33, 50, 50, 80}, progressOf(events))
	assert.IsType(t, model.Completed{}, events[len(events)-1])

	var phases []model.Status
	for _, e := range events {
		if p, ok := e.(model.Progress); ok {
			phases = append(phases, p.Phase)
		}
	}
	assert.Equal(t, []model.Status{
		model.StatusScraping, model.StatusScraping, model.StatusScraping,
		model.StatusAnalyzing, model.StatusGeneratingContent,
	}, phases)
}

func TestOrchestrator_ScoringFailureFailsCampaign(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{Leads: leadsNamed("Dental", 2), Status: collect.StatusExhausted}
	h.gateway.scoreErr = errors.New("anthropic: create message: 401 invalid x-api-key")

	id, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	events := h.drain()

	failed, ok := events[len(events)-1].(model.Failed)
	require.True(t, ok, "last event %T", events[len(events)-1])
	assert.Equal(t, id, failed.ID)
	assert.Contains(t, failed.Message, "invalid x-api-key")
	assert.Empty(t, h.store.campaigns)
	_, running := h.orch.Status(id)
	assert.False(t, running)
	assert.Empty(t, h.gateway.contentFor)
}

func TestOrchestrator_SaveFailureFailsCampaign(t *testing.T) {
	h := newHarness(Config{})
	h.store.saveErr = errors.New("database is locked")

	_, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	events := h.drain()

	failed, ok := events[len(events)-1].(model.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "database is locked")
	for _, e := range events {
		assert.NotEqual(t, "completed", e.Kind())
	}
}

func TestOrchestrator_GatewayPanicFailsCampaign(t *testing.T) {
	h := newHarness(Config{})
	h.orch.gateway = panicGateway{}

	_, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	events := h.drain()

	failed, ok := events[len(events)-1].(model.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "panic")
	assert.Empty(t, h.store.campaigns)
}

type panicGateway struct{}

func (panicGateway) ScoreLeads(context.Context, []model.Lead, string) ([]model.Lead, error) {
	panic("nil scorer")
}

func (panicGateway) GenerateContent(context.Context, model.Lead, enrich.Brief) (map[string]string, error) {
	return nil, nil
}

func TestOrchestrator_ContentFailureIsolated(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{Leads: leadsNamed("Dental", 3), Status: collect.StatusExhausted}
	h.gateway.scores = map[string]float64{"Dental 0": 90, "Dental 1": 85, "Dental 2": 75}
	h.gateway.contentErr["Dental 1"] = errors.New("overloaded")

	_, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	events := h.drain()
	assert.IsType(t, model.Completed{}, events[len(events)-1])

	saved := h.store.only(t)
	assert.NotEmpty(t, saved.Leads[0].Intelligence.Content)
	assert.Empty(t, saved.Leads[1].Intelligence.Content)
	assert.NotEmpty(t, saved.Leads[2].Intelligence.Content)
	assert.Equal(t, 3, saved.Stats.PriorityLeads)
}

func TestOrchestrator_ContentLimitDiscoveryOrder(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{Leads: leadsNamed("Dental", 8), Status: collect.StatusExhausted}
	for i, name := range []string{"Dental 0", "Dental 1", "Dental 2", "Dental 3", "Dental 4", "Dental 5", "Dental 6", "Dental 7"} {
		h.gateway.scores[name] = float64(71 + i)
	}
	h.gateway.scores["Dental 2"] = 10

	_, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	h.drain()

	assert.Equal(t, []string{"Dental 0", "Dental 1", "Dental 3", "Dental 4", "Dental 5"}, h.gateway.contentFor)
}

func TestOrchestrator_ContentScoreOrder(t *testing.T) {
	h := newHarness(Config{ContentLimit: 2, ContentOrder: OrderScore})
	h.runner.results["dentist in Austin, TX"] = collect.Result{Leads: leadsNamed("Dental", 4), Status: collect.StatusExhausted}
	h.gateway.scores = map[string]float64{"Dental 0": 72, "Dental 1": 95, "Dental 2": 80, "Dental 3": 95}

	_, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)
	h.drain()

	assert.Equal(t, []string{"Dental 1", "Dental 3"}, h.gateway.contentFor)
}

func TestOrchestrator_ValidationError(t *testing.T) {
	h := newHarness(Config{})
	req := gridRequest("78701", "78705", 9)

	_, err := h.orch.Start(context.Background(), req)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "batch_size", verr.Field)

	assert.Empty(t, h.drain())
	assert.Empty(t, h.runner.calls)
}

func TestOrchestrator_RangeErrorsFailFast(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.orch.Start(context.Background(), gridRequest("00000", "01001", 1))
	require.Error(t, err)
	assert.True(t, eris.Is(err, zipcode.ErrRangeTooLarge))

	_, err = h.orch.Start(context.Background(), gridRequest("07003", "07001", 1))
	require.Error(t, err)
	assert.True(t, eris.Is(err, zipcode.ErrInvalidRange))

	assert.Empty(t, h.drain())
}

func TestOrchestrator_StatusWhileRunning(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(Config{})
	h.orch.runner = blockingRunner{release: release}

	id, err := h.orch.Start(context.Background(), standardRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := h.orch.Status(id)
		return ok && snap.Status == model.StatusScraping
	}, time.Second, 5*time.Millisecond)
	active := h.orch.Active()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Nil(t, active[0].Leads)

	close(release)
	events := h.drain()
	assert.IsType(t, model.Completed{}, events[len(events)-1])
}

type blockingRunner struct{ release chan struct{} }

func (r blockingRunner) Run(_ context.Context, q model.Query, _ int) collect.Result {
	<-r.release
	return collect.Result{Query: q, Status: collect.StatusExhausted}
}

func TestOrchestrator_OutlivesStartContext(t *testing.T) {
	h := newHarness(Config{})
	h.runner.results["dentist in Austin, TX"] = collect.Result{Leads: leadsNamed("Dental", 1), Status: collect.StatusExhausted}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.orch.Start(ctx, standardRequest())
	require.NoError(t, err)
	cancel()

	events := h.drain()
	assert.IsType(t, model.Completed{}, events[len(events)-1])
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.CampaignConfig{
		DefaultMaxResults: 60,
		BatchDelayMs:      1500,
		ContentLimit:      3,
		ContentOrder:      " Score ",
	})
	assert.Equal(t, Config{
		DefaultMaxResults: 60,
		BatchDelay:        1500 * time.Millisecond,
		ContentLimit:      3,
		ContentOrder:      OrderScore,
	}, cfg)
}

func TestNew_Defaults(t *testing.T) {
	o := New(nil, nil, nil, Config{ContentOrder: "random"}, nil)
	assert.Equal(t, model.DefaultMaxResults, o.cfg.DefaultMaxResults)
	assert.Equal(t, DefaultContentLimit, o.cfg.ContentLimit)
	assert.Equal(t, OrderDiscovery, o.cfg.ContentOrder)
}

func TestApplyScores_ByIdentity(t *testing.T) {
	leads := []model.Lead{
		{Name: "A", ReferenceLink: "https://maps.example/place/a?hl=en"},
		{Name: "B", Phone: "555-0002"},
	}
	scored := []model.Lead{
		{Name: "B", Phone: "555-0002", Intelligence: &model.Intelligence{Score: 55, Priority: model.PriorityMedium}},
	}

	got := applyScores(leads, scored)
	assert.Equal(t, model.PriorityLow, got[0].Priority())
	assert.Equal(t, "Pending analysis", got[0].Intelligence.Analysis)
	assert.InDelta(t, 55, got[1].Score(), 0.001)
	assert.Nil(t, leads[1].Intelligence)

	got[1].Intelligence.Score = 1
	assert.InDelta(t, 55, scored[0].Intelligence.Score, 0.001)
}

func TestContentTargets(t *testing.T) {
	leads := []model.Lead{
		{Intelligence: &model.Intelligence{Score: 70, Priority: model.PriorityHigh}},
		{Intelligence: &model.Intelligence{Score: 99, Priority: model.PriorityMedium}},
		{},
		{Intelligence: &model.Intelligence{Score: 90, Priority: model.PriorityHigh}},
	}
	assert.Equal(t, []int{0, 3}, contentTargets(leads, 5, OrderDiscovery))
	assert.Equal(t, []int{3, 0}, contentTargets(leads, 5, OrderScore))
	assert.Equal(t, []int{3}, contentTargets(leads, 1, OrderScore))
	assert.Empty(t, contentTargets(nil, 5, OrderDiscovery))
}

func TestPartition(t *testing.T) {
	qs, err := ExpandQueries(gridRequest("00001", "00005", 2))
	require.NoError(t, err)

	batches := partition(qs, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "00005", batches[2][0].Zip)

	assert.Len(t, partition(qs, 0), 5)
}
