// Package collect runs the reveal-extract-dedupe loop for a single query
// against a listing source.
package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/extract"
	"github.com/sells-group/leadgen/internal/identity"
	"github.com/sells-group/leadgen/internal/model"
)

// DefaultMaxStagnant is the number of consecutive iterations without a new
// identity after which a session gives up.
const DefaultMaxStagnant = 5

// Source opens a view on the listing feed for a query.
type Source interface {
	Open(ctx context.Context, q model.Query) (View, error)
}

// View is one open listing feed. A View is owned by a single session.
type View interface {
	// ExtractVisible returns every candidate currently rendered.
	ExtractVisible(ctx context.Context) ([]model.RawCandidate, error)
	// Advance asks the feed to reveal more candidates.
	Advance(ctx context.Context) error
	Close() error
}

// Status is the terminal state of a session.
type Status string

const (
	StatusTargetReached Status = "target_reached"
	StatusExhausted     Status = "exhausted"
	StatusError         Status = "error"
)

// Result is the outcome of one session.
type Result struct {
	Query      model.Query
	Leads      []model.Lead
	Status     Status
	Err        error
	Iterations int
}

// Config tunes a Session.
type Config struct {
	MaxStagnant      int
	NavigationSettle time.Duration
	ScrollSettle     time.Duration
}

// Session runs queries against a Source. A Session holds no per-query state
// and may run many queries concurrently.
type Session struct {
	source    Source
	extractor *extract.Extractor
	cfg       Config
}

// NewSession creates a Session.
func NewSession(source Source, extractor *extract.Extractor, cfg Config) *Session {
	if cfg.MaxStagnant <= 0 {
		cfg.MaxStagnant = DefaultMaxStagnant
	}
	if extractor == nil {
		extractor = extract.New(nil)
	}
	return &Session{source: source, extractor: extractor, cfg: cfg}
}

// Run collects up to target leads for q. Failures of the source never
// escape: they end the session with StatusError and whatever was gathered.
func (s *Session) Run(ctx context.Context, q model.Query, target int) (res Result) {
	log := zap.L().With(zap.String("query", q.Phrase), zap.String("zip", q.Zip))
	res.Query = q

	var acc *identity.Set
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Err = eris.Errorf("collect: panic: %v", r)
		}
		if acc != nil {
			res.Leads = truncate(acc.Leads(), target)
		}
		if res.Status == StatusError {
			log.Warn("collect: session failed",
				zap.Error(res.Err),
				zap.Int("leads", len(res.Leads)),
			)
			return
		}
		log.Info("collect: session finished",
			zap.String("status", string(res.Status)),
			zap.Int("leads", len(res.Leads)),
			zap.Int("iterations", res.Iterations),
		)
	}()

	acc = identity.NewSet(target)

	view, err := s.source.Open(ctx, q)
	if err != nil {
		res.Status = StatusError
		res.Err = eris.Wrap(err, "collect: open view")
		return res
	}
	defer func() {
		if cerr := view.Close(); cerr != nil {
			log.Warn("collect: close view", zap.Error(cerr))
		}
	}()

	if err := sleep(ctx, s.cfg.NavigationSettle); err != nil {
		res.Status = StatusError
		res.Err = eris.Wrap(err, "collect: navigation settle")
		return res
	}

	stagnant := 0
	for {
		res.Iterations++

		raws, err := view.ExtractVisible(ctx)
		if err != nil {
			res.Status = StatusError
			res.Err = eris.Wrapf(err, "collect: extract iteration %d", res.Iterations)
			return res
		}

		fresh := 0
		for _, lead := range s.extractor.Pass(raws) {
			lead.Query = q.Phrase
			lead.Zip = q.Zip
			if acc.Add(lead) {
				fresh++
			}
		}
		log.Debug("collect: iteration",
			zap.Int("iteration", res.Iterations),
			zap.Int("visible", len(raws)),
			zap.Int("new", fresh),
			zap.Int("total", acc.Len()),
		)

		if acc.Len() >= target {
			res.Status = StatusTargetReached
			return res
		}
		if fresh == 0 {
			stagnant++
			if stagnant >= s.cfg.MaxStagnant {
				res.Status = StatusExhausted
				return res
			}
		} else {
			stagnant = 0
		}

		// Stagnant iterations advance too; the feed may still be loading.
		if err := view.Advance(ctx); err != nil {
			res.Status = StatusError
			res.Err = eris.Wrapf(err, "collect: advance iteration %d", res.Iterations)
			return res
		}
		if err := sleep(ctx, s.cfg.ScrollSettle); err != nil {
			res.Status = StatusError
			res.Err = eris.Wrap(err, "collect: scroll settle")
			return res
		}
	}
}

func truncate(leads []model.Lead, target int) []model.Lead {
	if target >= 0 && len(leads) > target {
		return leads[:target]
	}
	return leads
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// String implements fmt.Stringer for log output.
func (r Result) String() string {
	return fmt.Sprintf("%s: %d leads (%s)", r.Query, len(r.Leads), r.Status)
}
