package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"progresskit/core"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is set.
	SignatureHeader = "X-Progresskit-Signature"
	EventHeader     = "X-Progresskit-Event"
	TimestampHeader = "X-Progresskit-Timestamp"
)

// Sink posts domain events to configured HTTP endpoints.
// OnEvent is synchronous; attach it to an async event bus to keep it off the request path.
type Sink struct {
	client    *http.Client
	endpoints []string
	secret    []byte
	types     map[core.EventType]bool
	maxTries  uint
	initial   time.Duration
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs every body with HMAC-SHA256.
func WithSecret(secret string) Option {
	return func(s *Sink) { s.secret = []byte(secret) }
}

// WithEvents restricts delivery to the given types.
func WithEvents(types ...core.EventType) Option {
	return func(s *Sink) {
		if len(types) == 0 {
			return
		}
		s.types = map[core.EventType]bool{}
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// WithRetry sets how many times a delivery is tried and the first backoff.
func WithRetry(maxTries int, initial time.Duration) Option {
	return func(s *Sink) {
		if maxTries > 0 {
			s.maxTries = uint(maxTries)
		}
		if initial > 0 {
			s.initial = initial
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:   &http.Client{Timeout: 2 * time.Second},
		maxTries: 3,
		initial:  100 * time.Millisecond,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// OnEvent posts the event and logs failed deliveries.
func (s *Sink) OnEvent(e core.Event) {
	if err := s.Deliver(context.Background(), e); err != nil {
		s.log.Warn("webhook delivery failed", "event", e.Type, "learner", e.LearnerID, "error", err)
	}
}

// Deliver posts e to every endpoint, retrying network errors and 5xx answers.
func (s *Sink) Deliver(ctx context.Context, e core.Event) error {
	if len(s.endpoints) == 0 || (s.types != nil && !s.types[e.Type]) {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var errs []error
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, e, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) post(ctx context.Context, endpoint string, e core.Event, body []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EventHeader, string(e.Type))
		req.Header.Set(TimestampHeader, strconv.FormatInt(e.Time.Unix(), 10))
		if len(s.secret) > 0 {
			req.Header.Set(SignatureHeader, Sign(s.secret, body))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return struct{}{}, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries), backoff.WithMaxElapsedTime(0))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Source is the subscription side of an event bus.
type Source interface {
	SubscribeAll(handler func(context.Context, core.Event)) func()
}

// Attach delivers every event published on src.
func (s *Sink) Attach(src Source) func() {
	return src.SubscribeAll(func(ctx context.Context, e core.Event) {
		if err := s.Deliver(context.WithoutCancel(ctx), e); err != nil {
			s.log.Warn("webhook delivery failed", "event", e.Type, "learner", e.LearnerID, "error", err)
		}
	})
}
