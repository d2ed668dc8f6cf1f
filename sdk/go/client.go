package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the progresskit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

func learnerPath(learner string, parts ...string) (string, error) {
	if strings.TrimSpace(learner) == "" {
		return "", ErrEmptyLearnerID
	}
	p := "/learners/" + url.PathEscape(learner)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// RewardAction records a learner action and returns what it earned.
func (c *Client) RewardAction(ctx context.Context, learner string, a Action) (RewardResult, error) {
	path, err := learnerPath(learner, "actions")
	if err != nil {
		return RewardResult{}, err
	}
	var res RewardResult
	err = c.do(ctx, http.MethodPost, path, nil, a, &res)
	return res, err
}

// GetProfile fetches the learner's level, streak and achievements.
func (c *Client) GetProfile(ctx context.Context, learner string) (Profile, error) {
	path, err := learnerPath(learner)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	err = c.do(ctx, http.MethodGet, path, nil, nil, &p)
	return p, err
}

// MarkAchievementViewed reports whether the achievement changed to viewed.
func (c *Client) MarkAchievementViewed(ctx context.Context, learner, achievement string) (bool, error) {
	path, err := learnerPath(learner, "achievements", achievement, "viewed")
	if err != nil {
		return false, err
	}
	var body struct {
		Changed bool `json:"changed"`
	}
	err = c.do(ctx, http.MethodPost, path, nil, nil, &body)
	return body.Changed, err
}

// StartPathway begins plan for the learner; starting twice returns the stored progress.
func (c *Client) StartPathway(ctx context.Context, learner string, plan PathwayPlan) (PathwayProgress, error) {
	path, err := learnerPath(learner, "pathways")
	if err != nil {
		return PathwayProgress{}, err
	}
	var p PathwayProgress
	err = c.do(ctx, http.MethodPost, path, nil, plan, &p)
	return p, err
}

func (c *Client) ListPathways(ctx context.Context, learner string) ([]PathwayProgress, error) {
	path, err := learnerPath(learner, "pathways")
	if err != nil {
		return nil, err
	}
	var body struct {
		Pathways []PathwayProgress `json:"pathways"`
	}
	err = c.do(ctx, http.MethodGet, path, nil, nil, &body)
	return body.Pathways, err
}

func (c *Client) GetPathway(ctx context.Context, learner, pathway string) (PathwayProgress, error) {
	path, err := learnerPath(learner, "pathways", pathway)
	if err != nil {
		return PathwayProgress{}, err
	}
	var p PathwayProgress
	err = c.do(ctx, http.MethodGet, path, nil, nil, &p)
	return p, err
}

// CompleteResource marks one resource of a module as done.
func (c *Client) CompleteResource(ctx context.Context, learner, pathway string, module int, resource string) (StepResult, error) {
	path, err := learnerPath(learner, "pathways", pathway, "modules", strconv.Itoa(module), "resources", resource)
	if err != nil {
		return StepResult{}, err
	}
	var res StepResult
	err = c.do(ctx, http.MethodPost, path, nil, nil, &res)
	return res, err
}

// SubmitQuiz records a quiz attempt with a score in [0, 100].
func (c *Client) SubmitQuiz(ctx context.Context, learner, pathway string, module int, score float64) (StepResult, error) {
	path, err := learnerPath(learner, "pathways", pathway, "modules", strconv.Itoa(module), "quiz")
	if err != nil {
		return StepResult{}, err
	}
	var res StepResult
	err = c.do(ctx, http.MethodPost, path, nil, map[string]float64{"score": score}, &res)
	return res, err
}

// ResetQuiz clears the module's quiz so it can be retaken.
func (c *Client) ResetQuiz(ctx context.Context, learner, pathway string, module int) (StepResult, error) {
	path, err := learnerPath(learner, "pathways", pathway, "modules", strconv.Itoa(module), "quiz")
	if err != nil {
		return StepResult{}, err
	}
	var res StepResult
	err = c.do(ctx, http.MethodDelete, path, nil, nil, &res)
	return res, err
}

// ListAchievements returns the visible catalog.
func (c *Client) ListAchievements(ctx context.Context) ([]Achievement, error) {
	var body struct {
		Achievements []Achievement `json:"achievements"`
	}
	err := c.do(ctx, http.MethodGet, "/achievements", nil, nil, &body)
	return body.Achievements, err
}

// PutAchievement creates or replaces a catalog definition. It needs an admin key.
func (c *Client) PutAchievement(ctx context.Context, def Achievement) (Achievement, error) {
	if strings.TrimSpace(string(def.ID)) == "" {
		return Achievement{}, errors.New("achievement id is required")
	}
	var out Achievement
	err := c.do(ctx, http.MethodPut, "/admin/achievements/"+url.PathEscape(string(def.ID)), nil, def, &out)
	return out, err
}

func (c *Client) DeleteAchievement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/achievements/"+url.PathEscape(id), nil, nil, nil)
}

// Leaderboard returns the top limit learners by total XP; zero uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) (Leaderboard, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var lb Leaderboard
	err := c.do(ctx, http.MethodGet, "/leaderboard", q, nil, &lb)
	return lb, err
}

// Stats returns the analytics summary with the top most unlocked achievements.
func (c *Client) Stats(ctx context.Context, top int) (Summary, error) {
	q := url.Values{}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	var s Summary
	err := c.do(ctx, http.MethodGet, "/stats", q, nil, &s)
	return s, err
}

// Health probes /healthz and returns status + storage check. An unhealthy
// server is reported through the status, not an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &hs)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return HealthStatus{Status: "unhealthy"}, nil
	}
	return hs, err
}

// SubscribeOptions narrows the event stream on the server side.
type SubscribeOptions struct {
	Learner string
	Types   []string
}

// SubscribeEvents connects to the WebSocket stream and emits events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, opts SubscribeOptions) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if opts.Learner != "" {
		q.Set("learner", opts.Learner)
	}
	if len(opts.Types) > 0 {
		q.Set("types", strings.Join(opts.Types, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("subscribe: %w", decodeJSON(resp, nil))
		}
		return nil, err
	}

	out := make(chan Event, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
