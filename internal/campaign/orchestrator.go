// Package campaign runs lead-generation campaigns end to end: query
// expansion, batched collection, scoring, content generation and
// persistence. It also merges finished campaigns.
package campaign

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/collect"
	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/enrich"
	"github.com/sells-group/leadgen/internal/identity"
	"github.com/sells-group/leadgen/internal/model"
)

// ContentOrder decides which HIGH priority leads get outreach content first.
type ContentOrder string

const (
	// OrderDiscovery keeps the order in which leads were collected.
	OrderDiscovery ContentOrder = "discovery"
	// OrderScore takes the highest scores first, ties in discovery order.
	OrderScore ContentOrder = "score"
)

// DefaultContentLimit bounds content generation per campaign.
const DefaultContentLimit = 5

// Runner collects leads for one query. *collect.Session implements it.
type Runner interface {
	Run(ctx context.Context, q model.Query, target int) collect.Result
}

// Saver persists finished campaigns.
type Saver interface {
	SaveCampaign(ctx context.Context, c *model.Campaign) error
}

// Config tunes the Orchestrator.
type Config struct {
	DefaultMaxResults int
	BatchDelay        time.Duration
	ContentLimit      int
	ContentOrder      ContentOrder
}

// ConfigFrom converts the campaign config section.
func ConfigFrom(c config.CampaignConfig) Config {
	return Config{
		DefaultMaxResults: c.DefaultMaxResults,
		BatchDelay:        time.Duration(c.BatchDelayMs) * time.Millisecond,
		ContentLimit:      c.ContentLimit,
		ContentOrder:      ContentOrder(strings.ToLower(strings.TrimSpace(c.ContentOrder))),
	}
}

// Orchestrator starts campaigns and drives each through its lifecycle on its
// own goroutine. In-flight campaigns live in a registry owned by the
// Orchestrator; each entry is written only by its lifecycle goroutine.
type Orchestrator struct {
	runner  Runner
	gateway enrich.Gateway
	saver   Saver
	cfg     Config
	events  chan<- model.Event

	mu       sync.Mutex
	inflight map[string]*model.Campaign
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates an Orchestrator. Events are sent on events, which may be nil
// to discard them; sends block, so the receiver must keep draining.
func New(runner Runner, gateway enrich.Gateway, saver Saver, cfg Config, events chan<- model.Event) *Orchestrator {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = model.DefaultMaxResults
	}
	if cfg.ContentLimit <= 0 {
		cfg.ContentLimit = DefaultContentLimit
	}
	if cfg.ContentOrder != OrderScore {
		cfg.ContentOrder = OrderDiscovery
	}
	return &Orchestrator{
		runner:   runner,
		gateway:  gateway,
		saver:    saver,
		cfg:      cfg,
		events:   events,
		inflight: make(map[string]*model.Campaign),
		now:      time.Now,
	}
}

// Start validates req, registers the campaign and runs it in the background.
// Validation and range errors are returned before anything is started. The
// campaign outlives ctx: only its values are inherited.
func (o *Orchestrator) Start(ctx context.Context, req model.CampaignRequest) (string, error) {
	req.Normalize(o.cfg.DefaultMaxResults)
	if err := req.Validate(); err != nil {
		return "", err
	}
	queries, err := ExpandQueries(req)
	if err != nil {
		return "", eris.Wrap(err, "campaign: expand queries")
	}

	started := o.now().UTC()
	c := req.Campaign(model.NewCampaignID(req.Name, started))
	c.StartedAt = started

	o.mu.Lock()
	if _, dup := o.inflight[c.ID]; dup {
		o.mu.Unlock()
		return "", eris.Errorf("campaign: %s is already running", c.ID)
	}
	o.inflight[c.ID] = c
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(context.WithoutCancel(ctx), c, queries)
	return c.ID, nil
}

// Status returns a snapshot of an in-flight campaign without its leads.
func (o *Orchestrator) Status(id string) (model.Campaign, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.inflight[id]
	if !ok {
		return model.Campaign{}, false
	}
	snap := *c
	snap.Leads = nil
	return snap, true
}

// Active returns snapshots of every in-flight campaign, oldest first.
func (o *Orchestrator) Active() []model.Campaign {
	o.mu.Lock()
	out := make([]model.Campaign, 0, len(o.inflight))
	for _, c := range o.inflight {
		snap := *c
		snap.Leads = nil
		out = append(out, snap)
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b model.Campaign) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Wait blocks until every started campaign has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, c *model.Campaign, queries []model.Query) {
	defer o.wg.Done()
	log := zap.L().With(zap.String("campaign_id", c.ID))

	o.emit(model.Started{ID: c.ID, Message: fmt.Sprintf("Campaign %q started with %d queries", c.Name, len(queries))})

	err := o.lifecycle(ctx, c, queries, log)
	if err == nil {
		return
	}

	o.mu.Lock()
	c.Status = model.StatusFailed
	o.mu.Unlock()
	o.unregister(c.ID)
	log.Error("campaign failed", zap.Error(err))
	o.emit(model.Failed{ID: c.ID, Message: err.Error()})
}

func (o *Orchestrator) lifecycle(ctx context.Context, c *model.Campaign, queries []model.Query, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("campaign: panic: %v", r)
		}
	}()

	if err := o.transition(c, model.StatusScraping); err != nil {
		return err
	}
	leads := o.scrape(ctx, c, queries, log)

	if err := o.transition(c, model.StatusAnalyzing); err != nil {
		return err
	}
	o.progress(c, 50, fmt.Sprintf("Analyzing %d unique leads", len(leads)))
	scored, err := o.gateway.ScoreLeads(ctx, leads, c.Industry)
	if err != nil {
		return eris.Wrap(err, "campaign: score leads")
	}
	leads = applyScores(leads, scored)

	if err := o.transition(c, model.StatusGeneratingContent); err != nil {
		return err
	}
	o.progress(c, 80, "Generating outreach content")
	o.generateContent(ctx, c, leads, log)

	return o.finalize(ctx, c, leads, log)
}

// scrape runs the queries in sequential batches. Sessions within a batch run
// concurrently; their results join the campaign set only once the whole
// batch has returned.
func (o *Orchestrator) scrape(ctx context.Context, c *model.Campaign, queries []model.Query, log *zap.Logger) []model.Lead {
	set := identity.NewSet(0)
	batches := partition(queries, c.BatchSize)

	for b, batch := range batches {
		results := make([]collect.Result, len(batch))
		g := new(errgroup.Group)
		for i, q := range batch {
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						results[i] = collect.Result{
							Query:  q,
							Status: collect.StatusError,
							Err:    eris.Errorf("campaign: collection session panic: %v", r),
						}
					}
				}()
				results[i] = o.runner.Run(ctx, q, c.MaxResults)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			added := set.AddAll(r.Leads)
			if r.Status == collect.StatusError {
				log.Warn("collection session failed, keeping partial results",
					zap.String("query", r.Query.String()),
					zap.Int("leads", len(r.Leads)),
					zap.Error(r.Err),
				)
				continue
			}
			log.Debug("collection session finished",
				zap.String("query", r.Query.String()),
				zap.String("status", string(r.Status)),
				zap.Int("leads", len(r.Leads)),
				zap.Int("new", added),
			)
		}

		pct := int(math.Round(50 * float64(b+1) / float64(len(batches))))
		o.progress(c, pct, fmt.Sprintf("Scraped batch %d of %d (%s): %d unique leads",
			b+1, len(batches), describeBatch(batch), set.Len()))

		if b+1 < len(batches) && o.cfg.BatchDelay > 0 {
			time.Sleep(o.cfg.BatchDelay)
		}
	}
	return set.Leads()
}

func (o *Orchestrator) generateContent(ctx context.Context, c *model.Campaign, leads []model.Lead, log *zap.Logger) {
	brief := enrich.Brief{
		Industry: c.Industry,
		Service:  c.YourService,
		Style:    c.ContentStyle,
		Language: c.Language,
	}
	for _, i := range contentTargets(leads, o.cfg.ContentLimit, o.cfg.ContentOrder) {
		content, err := o.gateway.GenerateContent(ctx, leads[i], brief)
		if err != nil {
			log.Warn("content generation failed", zap.String("lead", leads[i].Name), zap.Error(err))
			continue
		}
		leads[i].Intelligence.Content = content
	}
}

func (o *Orchestrator) finalize(ctx context.Context, c *model.Campaign, leads []model.Lead, log *zap.Logger) error {
	executed := o.now().UTC()

	o.mu.Lock()
	if !c.Status.CanTransitionTo(model.StatusCompleted) {
		o.mu.Unlock()
		return eris.Errorf("campaign: invalid transition %s -> %s", c.Status, model.StatusCompleted)
	}
	c.Leads = leads
	c.Stats = ComputeStats(leads)
	c.ExecutedAt = &executed
	final := *c
	o.mu.Unlock()

	final.Status = model.StatusCompleted
	final.Progress = 100
	if err := o.saver.SaveCampaign(ctx, &final); err != nil {
		return eris.Wrap(err, "campaign: save")
	}

	o.mu.Lock()
	c.Status = model.StatusCompleted
	c.Progress = 100
	o.mu.Unlock()
	o.unregister(c.ID)

	log.Info("campaign completed",
		zap.Int("leads", final.Stats.TotalLeads),
		zap.Int("priority_leads", final.Stats.PriorityLeads),
		zap.Float64("average_score", final.Stats.AverageScore),
	)
	o.emit(model.Completed{
		ID:      c.ID,
		Stats:   final.Stats,
		Message: fmt.Sprintf("Campaign completed. Found %d unique leads.", final.Stats.TotalLeads),
	})
	return nil
}

func (o *Orchestrator) transition(c *model.Campaign, next model.Status) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !c.Status.CanTransitionTo(next) {
		return eris.Errorf("campaign: invalid transition %s -> %s", c.Status, next)
	}
	c.Status = next
	return nil
}

func (o *Orchestrator) progress(c *model.Campaign, pct int, msg string) {
	o.mu.Lock()
	c.Progress = pct
	phase := c.Status
	o.mu.Unlock()

	zap.L().Info(msg, zap.String("campaign_id", c.ID), zap.Int("progress", pct))
	o.emit(model.Progress{ID: c.ID, Phase: phase, Percentage: pct, Message: msg})
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(e model.Event) {
	if o.events != nil {
		o.events <- e
	}
}

// applyScores copies the enrichment of scored onto leads by identity. Leads
// the gateway did not return keep a pending LOW assessment.
func applyScores(leads, scored []model.Lead) []model.Lead {
	byKey := identity.NewSet(len(scored))
	for _, s := range scored {
		if s.Intelligence != nil {
			byKey.Add(s)
		}
	}

	out := make([]model.Lead, len(leads))
	for i, l := range leads {
		intel := model.Intelligence{Priority: model.PriorityLow, Analysis: "Pending analysis"}
		if s, ok := byKey.Get(identity.Derive(l)); ok {
			intel = *s.Intelligence
		}
		l.Intelligence = &intel
		out[i] = l
	}
	return out
}

// contentTargets returns the indices of HIGH priority leads to write content
// for, at most limit of them.
func contentTargets(leads []model.Lead, limit int, order ContentOrder) []int {
	var idx []int
	for i, l := range leads {
		if l.Priority() == model.PriorityHigh {
			idx = append(idx, i)
		}
	}
	if order == OrderScore {
		slices.SortStableFunc(idx, func(a, b int) int {
			switch sa, sb := leads[a].Score(), leads[b].Score(); {
			case sa > sb:
				return -1
			case sa < sb:
				return 1
			default:
				return 0
			}
		})
	}
	if len(idx) > limit {
		idx = idx[:limit]
	}
	return idx
}

func describeBatch(batch []model.Query) string {
	labels := make([]string, len(batch))
	for i, q := range batch {
		labels[i] = q.Zip
		if labels[i] == "" {
			labels[i] = "query"
		}
	}
	return strings.Join(labels, ", ")
}
