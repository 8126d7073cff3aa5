package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/pkg/anthropic"
)

// MockClient implements anthropic.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func mentions(name string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 && strings.Contains(req.Messages[0].Content, name)
	})
}

func newTestClaude(client anthropic.Client, chunk int) *Claude {
	return NewClaude(client, config.AnthropicConfig{
		Model:            "claude-haiku-4-5-20251001",
		ScoreChunkSize:   chunk,
		ScoreConcurrency: 2,
	}, resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func testLeads() []model.Lead {
	return []model.Lead{
		{Name: "Alpha Dental", Phone: "555-0001", Rating: "4.8", Website: "https://alpha.example"},
		{Name: "Bravo Dental", Address: "2 Elm St"},
		{Name: "Charlie Dental", Phone: "555-0003"},
	}
}

func TestScoreLeads(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mentions("Alpha Dental")).Return(textResponse(
		"Here are the scores:\n```json\n"+
			`[{"index":0,"score":85,"priority":"high","analysis":"Strong reviews"},{"index":1,"score":45}]`+
			"\n```"), nil).Once()
	client.On("CreateMessage", mock.Anything, mentions("Charlie Dental")).Return(textResponse(
		`[{"index":0,"score":150,"priority":"urgent","analysis":" No website "}]`), nil).Once()

	leads := testLeads()
	got, err := newTestClaude(client, 2).ScoreLeads(context.Background(), leads, "dental")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Alpha Dental", got[0].Name)
	assert.Equal(t, &model.Intelligence{Score: 85, Priority: model.PriorityHigh, Analysis: "Strong reviews"}, got[0].Intelligence)
	assert.Equal(t, &model.Intelligence{Score: 45, Priority: model.PriorityMedium}, got[1].Intelligence)
	assert.Equal(t, &model.Intelligence{Score: 100, Priority: model.PriorityHigh, Analysis: "No website"}, got[2].Intelligence)

	// Input is not mutated.
	assert.Nil(t, leads[0].Intelligence)
	client.AssertExpectations(t)
}

func TestScoreLeads_OmittedLeadKeepsDefault(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`[{"index":1,"score":72,"priority":"HIGH"},{"index":9,"score":99}]`), nil).Once()

	got, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads(), "dental")
	require.NoError(t, err)

	assert.Equal(t, model.PriorityLow, got[0].Priority())
	assert.Zero(t, got[0].Score())
	assert.Equal(t, "Pending analysis", got[0].Intelligence.Analysis)
	assert.Equal(t, model.PriorityHigh, got[1].Priority())
	assert.Equal(t, model.PriorityLow, got[2].Priority())
}

func TestScoreLeads_SystemPromptCached(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 &&
			req.System[0].CacheControl != nil &&
			strings.Contains(req.System[0].Text, "plumbing") &&
			req.Model == "claude-haiku-4-5-20251001"
	})).Return(textResponse(`[]`), nil).Once()

	_, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads(), "plumbing")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestScoreLeads_Empty(t *testing.T) {
	client := &MockClient{}
	got, err := newTestClaude(client, 10).ScoreLeads(context.Background(), nil, "dental")
	require.NoError(t, err)
	assert.Empty(t, got)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestScoreLeads_ChunkFailureFailsCall(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mentions("Alpha Dental")).Return(textResponse(`[]`), nil).Maybe()
	client.On("CreateMessage", mock.Anything, mentions("Charlie Dental")).Return(nil, errors.New("invalid x-api-key")).Once()

	got, err := newTestClaude(client, 2).ScoreLeads(context.Background(), testLeads(), "dental")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "invalid x-api-key")
}

func TestScoreLeads_RetriesTransient(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`[{"index":0,"score":10}]`), nil).Once()

	got, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads(), "dental")
	require.NoError(t, err)
	assert.InDelta(t, 10, got[0].Score(), 0.001)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestScoreLeads_RetriesOverloadedAPI(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001",` + //nolint:errcheck
			`"stop_reason":"end_turn","content":[{"type":"text","text":"[{\"index\":0,\"score\":77}]"}],` +
			`"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer ts.Close()

	client := anthropic.NewClient("test-key", option.WithBaseURL(ts.URL))
	got, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads()[:1], "dental")
	require.NoError(t, err)
	assert.InDelta(t, 77, got[0].Score(), 0.001)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScoreLeads_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := anthropic.NewClient("test-key", option.WithBaseURL(ts.URL))
	_, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads()[:1], "dental")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScoreLeads_MalformedJSON(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I cannot score these."), nil).Once()

	_, err := newTestClaude(client, 10).ScoreLeads(context.Background(), testLeads(), "dental")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON in response")
}

func TestGenerateContent(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		sys := req.System[0].Text
		return strings.Contains(sys, "indonesian") &&
			strings.Contains(sys, "friendly") &&
			strings.Contains(sys, "web design") &&
			strings.Contains(req.Messages[0].Content, "Alpha Dental")
	})).Return(textResponse(
		`{"email":"Hi Alpha","whatsapp":"Halo!","linkedin":"","fax":"ignored"}`), nil).Once()

	content, err := newTestClaude(client, 10).GenerateContent(context.Background(), testLeads()[0], Brief{
		Industry: "dental",
		Service:  "web design",
		Style:    "friendly",
		Language: "indonesian",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"email": "Hi Alpha", "whatsapp": "Halo!"}, content)
	client.AssertExpectations(t)
}

func TestGenerateContent_Temperature(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Temperature != nil && *req.Temperature == 0.7
	})).Return(textResponse(`{"email":"Hi"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Temperature == nil
	})).Return(textResponse(`[{"index":0,"score":10}]`), nil).Once()

	c := NewClaude(client, config.AnthropicConfig{ContentTemperature: 0.7}, resilience.RetryConfig{MaxAttempts: 1})
	_, err := c.GenerateContent(context.Background(), testLeads()[0], Brief{})
	require.NoError(t, err)
	_, err = c.ScoreLeads(context.Background(), testLeads()[:1], "dental")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestGenerateContent_NoChannels(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"sms":"hi"}`), nil).Once()

	_, err := newTestClaude(client, 10).GenerateContent(context.Background(), testLeads()[0], Brief{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content channels")
}

func TestGenerateContent_Error(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("bad request")).Once()

	_, err := newTestClaude(client, 10).GenerateContent(context.Background(), testLeads()[0], Brief{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Alpha Dental")
}

func TestGenerateContent_EmptyResponse(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("  "), nil).Once()

	_, err := newTestClaude(client, 10).GenerateContent(context.Background(), testLeads()[0], Brief{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty claude response")
}

func TestDescribeLeads(t *testing.T) {
	out := describeLeads(testLeads()[:2])
	assert.Contains(t, out, "0. Alpha Dental\n")
	assert.Contains(t, out, "   Website: https://alpha.example\n")
	assert.Contains(t, out, "1. Bravo Dental\n   Address: 2 Elm St\n   Website: none\n")
}

func TestToIntelligence(t *testing.T) {
	assert.Equal(t, model.PriorityLow, toIntelligence(scoreResult{Score: -5}).Priority)
	assert.Zero(t, toIntelligence(scoreResult{Score: -5}).Score)
	assert.Equal(t, model.PriorityMedium, toIntelligence(scoreResult{Score: 90, Priority: "medium"}).Priority)
}
