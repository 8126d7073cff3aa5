// Package listing drives a headless Chrome against the maps search page and
// exposes the results feed as a collect.Source.
package listing

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen/internal/collect"
	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
)

// feedWait bounds the search for the results container after load.
const feedWait = 15 * time.Second

// launchFunc starts a Chrome instance and returns its control URL and a
// cleanup that stops it.
type launchFunc func(ctx context.Context) (string, func(), error)

type launched struct {
	controlURL string
	cleanup    func()
}

// Browser implements collect.Source. Every Open launches an isolated Chrome
// so concurrent sessions never share a page.
type Browser struct {
	cfg     config.BrowserConfig
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	launch  launchFunc
}

var _ collect.Source = (*Browser)(nil)

// New creates a Browser. Opens are throttled to cfg.OpensPerSecond and
// launches go through breaker.
func New(cfg config.BrowserConfig, retry resilience.RetryConfig, breaker *resilience.Breaker) *Browser {
	perSecond := cfg.OpensPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{})
	}
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger("browser", "navigate")

	b := &Browser{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker: breaker,
		retry:   retry,
	}
	b.launch = b.launchChrome
	return b
}

func (b *Browser) launchChrome(_ context.Context) (string, func(), error) {
	l := launcher.New().Headless(b.cfg.Headless).NoSandbox(true)
	if b.cfg.Bin != "" {
		l = l.Bin(b.cfg.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return "", nil, eris.Wrap(err, "listing: launch chrome")
	}
	return controlURL, l.Cleanup, nil
}

// Open launches Chrome, runs the search for q and waits for the results feed.
func (b *Browser) Open(ctx context.Context, q model.Query) (collect.View, error) {
	log := zap.L().With(zap.String("query", q.Phrase), zap.String("zip", q.Zip))

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "listing: wait for open slot")
	}

	l, err := resilience.ExecuteVal(ctx, b.breaker, func(ctx context.Context) (launched, error) {
		controlURL, cleanup, err := b.launch(ctx)
		return launched{controlURL: controlURL, cleanup: cleanup}, err
	})
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(l.controlURL)
	if err := browser.Connect(); err != nil {
		l.cleanup()
		return nil, eris.Wrap(err, "listing: connect to chrome")
	}

	v := &view{browser: browser, cleanup: l.cleanup}
	if err := b.load(ctx, v, SearchURL(b.cfg.SearchBaseURL, q.String())); err != nil {
		v.Close() //nolint:errcheck
		return nil, err
	}
	log.Debug("listing feed ready", zap.String("selector", v.feedSelector))
	return v, nil
}

func (b *Browser) load(ctx context.Context, v *view, target string) error {
	page, err := v.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return eris.Wrap(err, "listing: create page")
	}
	v.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return eris.Wrap(err, "listing: set viewport")
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			return eris.Wrap(err, "listing: set user agent")
		}
	}

	err = resilience.Do(ctx, b.retry, func(ctx context.Context) error {
		p := page.Context(ctx).Timeout(b.cfg.NavigationTimeout())
		if err := p.Navigate(target); err != nil {
			return eris.Wrapf(err, "listing: navigate %s", target)
		}
		return eris.Wrap(p.WaitLoad(), "listing: wait load")
	})
	if err != nil {
		return err
	}

	race := page.Context(ctx).Timeout(feedWait).Race()
	for _, sel := range feedSelectors {
		race = race.Element(sel)
	}
	feed, err := race.Do()
	if err != nil {
		return eris.Wrap(err, "listing: find results feed")
	}
	v.feed = feed
	v.feedSelector = matchedSelector(feed)
	return nil
}

func matchedSelector(el *rod.Element) string {
	for _, sel := range feedSelectors {
		if ok, err := el.Matches(sel); err == nil && ok {
			return sel
		}
	}
	return ""
}

// SearchURL joins the search base URL and the path-escaped query.
func SearchURL(base, query string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(strings.TrimSpace(query))
}

func decodeCandidates(raw string) ([]model.RawCandidate, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []model.RawCandidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "listing: decode candidates")
	}
	return out, nil
}
