package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/campaign"
	"github.com/sells-group/leadgen/internal/collect"
	"github.com/sells-group/leadgen/internal/enrich"
	"github.com/sells-group/leadgen/internal/extract"
	"github.com/sells-group/leadgen/internal/listing"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/anthropic"
)

// campaignEnv holds everything needed to run campaigns.
type campaignEnv struct {
	Store        store.Store
	Orchestrator *campaign.Orchestrator
	Hub          *campaign.Hub

	events  chan model.Event
	hubDone chan struct{}
	stopHub context.CancelFunc
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initCampaigns wires the store, browser, Claude gateway and orchestrator.
func initCampaigns(ctx context.Context) (*campaignEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic key is required (LEADGEN_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromConfig(cfg.Retry)
	breakerCfg := resilience.BreakerFromConfig(cfg.Retry)
	breakerCfg.OnStateChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("browser launch breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	browser := listing.New(cfg.Browser, retry, resilience.NewBreaker(breakerCfg))
	session := collect.NewSession(browser, extract.New(cfg.Browser.SourceDomains), collect.Config{
		MaxStagnant:      cfg.Collect.MaxStagnantIterations,
		NavigationSettle: time.Duration(cfg.Collect.NavigationSettleMs) * time.Millisecond,
		ScrollSettle:     time.Duration(cfg.Collect.ScrollSettleMs) * time.Millisecond,
	})
	gateway := enrich.NewClaude(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic, retry)

	events := make(chan model.Event, 64)
	hub := campaign.NewHub()
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx, events)
	}()

	return &campaignEnv{
		Store:        st,
		Orchestrator: campaign.New(session, gateway, st, campaign.ConfigFrom(cfg.Campaign), events),
		Hub:          hub,
		events:       events,
		hubDone:      hubDone,
		stopHub:      stopHub,
	}, nil
}

// Close waits for running campaigns, drains the hub and closes the store.
func (e *campaignEnv) Close() {
	e.Orchestrator.Wait()
	close(e.events)
	<-e.hubDone
	e.stopHub()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
