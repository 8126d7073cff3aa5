package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/pkg/anthropic"
)

const scorePrompt = `You qualify local businesses as sales leads for a company selling into the %s industry.
For each numbered lead, judge how likely it is to buy, using its rating, whether it has a website, and how complete its contact details are.
Score each lead from 0 to 100 and assign a priority of HIGH, MEDIUM or LOW.

Respond with ONLY a valid JSON array, one object per lead, no other text:
[{"index": 0, "score": 0, "priority": "LOW", "analysis": "one sentence"}]`

const contentPrompt = `You write short, personal outreach messages to local businesses.
Write in %s with a %s tone. The sender offers: %s
The recipient works in the %s industry.

Respond with ONLY a valid JSON object with exactly these keys, no other text:
{"email": "...", "whatsapp": "...", "linkedin": "..."}`

// Claude implements Gateway on the Anthropic messages API.
type Claude struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	chunkSize   int
	concurrency int
	contentTemp *float64
	retry       resilience.RetryConfig
}

// NewClaude creates a Claude gateway.
func NewClaude(client anthropic.Client, cfg config.AnthropicConfig, retry resilience.RetryConfig) *Claude {
	c := &Claude{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		chunkSize:   cfg.ScoreChunkSize,
		concurrency: cfg.ScoreConcurrency,
		retry:       retry,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 2048
	}
	if c.chunkSize <= 0 {
		c.chunkSize = 20
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	if t := cfg.ContentTemperature; t > 0 {
		c.contentTemp = &t
	}
	return c
}

type scoreResult struct {
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	Priority string  `json:"priority"`
	Analysis string  `json:"analysis"`
}

// ScoreLeads scores leads in chunks. Any failed chunk fails the call.
// Leads the model leaves out of its answer keep a zero LOW score.
func (c *Claude) ScoreLeads(ctx context.Context, leads []model.Lead, industry string) ([]model.Lead, error) {
	log := zap.L().With(zap.String("phase", "score"), zap.String("industry", industry))

	out := make([]model.Lead, len(leads))
	copy(out, leads)
	for i := range out {
		out[i].Intelligence = &model.Intelligence{
			Priority: model.PriorityLow,
			Analysis: "Pending analysis",
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	system := anthropic.BuildCachedSystemBlocks(fmt.Sprintf(scorePrompt, industry), "5m")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(out); start += c.chunkSize {
		end := min(start+c.chunkSize, len(out))
		g.Go(func() error {
			chunk := out[start:end]
			text, err := c.complete(gctx, "score", system, nil, describeLeads(chunk))
			if err != nil {
				return eris.Wrapf(err, "enrich: score leads %d-%d", start, end-1)
			}
			results, err := parseScores(text)
			if err != nil {
				return eris.Wrapf(err, "enrich: score leads %d-%d", start, end-1)
			}
			// Chunks write disjoint ranges of out.
			for _, r := range results {
				if r.Index < 0 || r.Index >= len(chunk) {
					continue
				}
				chunk[r.Index].Intelligence = toIntelligence(r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("scored leads", zap.Int("leads", len(out)))
	return out, nil
}

// GenerateContent writes outreach messages for one lead.
func (c *Claude) GenerateContent(ctx context.Context, lead model.Lead, brief Brief) (map[string]string, error) {
	system := []anthropic.SystemBlock{{
		Text: fmt.Sprintf(contentPrompt, brief.Language, brief.Style, brief.Service, brief.Industry),
	}}
	text, err := c.complete(ctx, "content", system, c.contentTemp, describeLeads([]model.Lead{lead}))
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: generate content for %q", lead.Name)
	}

	raw, err := jsonSpan(text, "{", "}")
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: generate content for %q", lead.Name)
	}
	var content map[string]string
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, eris.Wrap(err, "enrich: parse content JSON")
	}

	out := make(map[string]string, len(Channels))
	for _, ch := range Channels {
		if v := strings.TrimSpace(content[ch]); v != "" {
			out[ch] = v
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("enrich: no content channels in response for %q", lead.Name)
	}
	return out, nil
}

func (c *Claude) complete(ctx context.Context, phase string, system []anthropic.SystemBlock, temperature *float64, user string) (string, error) {
	retry := c.retry
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger("anthropic", phase)

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			System:      system,
			Messages:    []anthropic.Message{{Role: "user", Content: user}},
			Temperature: temperature,
		})
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return resp, err
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(c.model, phase)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.New("enrich: empty claude response")
	}
	return text, nil
}

func describeLeads(leads []model.Lead) string {
	var b strings.Builder
	for i, l := range leads {
		fmt.Fprintf(&b, "%d. %s\n", i, l.Name)
		if l.Address != "" {
			fmt.Fprintf(&b, "   Address: %s\n", l.Address)
		}
		if l.Phone != "" {
			fmt.Fprintf(&b, "   Phone: %s\n", l.Phone)
		}
		if l.Rating != "" {
			fmt.Fprintf(&b, "   Rating: %s\n", l.Rating)
		}
		if l.Website != "" {
			fmt.Fprintf(&b, "   Website: %s\n", l.Website)
		} else {
			b.WriteString("   Website: none\n")
		}
	}
	return b.String()
}

func parseScores(text string) ([]scoreResult, error) {
	raw, err := jsonSpan(text, "[", "]")
	if err != nil {
		return nil, err
	}
	var results []scoreResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, eris.Wrap(err, "enrich: parse score JSON")
	}
	return results, nil
}

// jsonSpan returns text from the first opening delimiter through the last
// closing one, dropping any prose or code fence around the JSON.
func jsonSpan(text, opening, closing string) (string, error) {
	start := strings.Index(text, opening)
	end := strings.LastIndex(text, closing)
	if start < 0 || end <= start {
		return "", eris.Errorf("enrich: no JSON in response: %.200s", text)
	}
	return text[start : end+1], nil
}

func toIntelligence(r scoreResult) *model.Intelligence {
	score := min(max(r.Score, 0), 100)
	priority, ok := model.ParsePriority(r.Priority)
	if !ok {
		priority = model.PriorityForScore(score)
	}
	return &model.Intelligence{
		Score:    score,
		Priority: priority,
		Analysis: strings.TrimSpace(r.Analysis),
	}
}
