package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-notify/pkg/config"
	"github.com/zoff-tech/go-notify/pkg/job"
	"github.com/zoff-tech/go-notify/pkg/ratelimit"
)

const maxResponseBytes = 1 << 20

// Limiter gates outbound calls. *ratelimit.SlidingWindow satisfies it.
type Limiter interface {
	Allow() bool
	WaitTime() time.Duration
	Remaining() int
}

// EmailClient sends messages through the provider's HTTP API.
type EmailClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	defaultFrom string
	limiter     Limiter
	tracer      trace.Tracer
}

type Option func(*EmailClient)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *EmailClient) { e.httpClient = c }
}

// WithLimiter replaces the sliding-window limiter built from settings.
func WithLimiter(l Limiter) Option {
	return func(e *EmailClient) { e.limiter = l }
}

// NewEmailClient builds a client from settings. Missing credentials or
// sender identity are reported immediately.
func NewEmailClient(settings *config.DeliverySettings, opts ...Option) (*EmailClient, error) {
	if settings.APIKey == "" {
		return nil, errors.New("delivery api key is required")
	}
	if settings.FromAddress == "" {
		return nil, errors.New("delivery from address is required")
	}
	if settings.BaseURL == "" {
		return nil, errors.New("delivery base url is required")
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &EmailClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     strings.TrimRight(settings.BaseURL, "/"),
		apiKey:      settings.APIKey,
		defaultFrom: FormatFrom(settings.FromName, settings.FromAddress),
		limiter:     ratelimit.NewSlidingWindow(settings.RateLimit, settings.RateWindow),
		tracer:      otel.Tracer("go-notify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FormatFrom renders "Name <address>", or the bare address without a name.
func FormatFrom(name, address string) string {
	if strings.TrimSpace(name) == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// WaitTime reports the local limiter's wait.
func (c *EmailClient) WaitTime() time.Duration {
	return c.limiter.WaitTime()
}

// Remaining reports how many calls the local limiter would admit now.
func (c *EmailClient) Remaining() int {
	return c.limiter.Remaining()
}

func (c *EmailClient) Send(ctx context.Context, msg *job.Message) Result {
	ctx, span := c.tracer.Start(ctx, "delivery.Send")
	defer span.End()

	result := c.send(ctx, msg)

	span.SetAttributes(attribute.String("delivery.outcome", string(result.Outcome)))
	if result.ProviderMessageID != "" {
		span.SetAttributes(attribute.String("delivery.provider_message_id", result.ProviderMessageID))
	}
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
	}
	return result
}

func (c *EmailClient) send(ctx context.Context, msg *job.Message) Result {
	if err := Validate(msg); err != nil {
		return Permanent(err)
	}

	if !c.limiter.Allow() {
		return LocallyLimited(c.limiter.WaitTime())
	}

	body, err := json.Marshal(newEmailRequest(msg, c.defaultFrom))
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("failed to reach provider: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Transient(fmt.Errorf("failed to read provider response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parseAccepted(ctx, payload)
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(providerError(resp.StatusCode, payload), parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return Transient(providerError(resp.StatusCode, payload))
	default:
		return Permanent(providerError(resp.StatusCode, payload))
	}
}

// parseAccepted reads a 2xx body. The provider has already taken the
// message, so an undecodable body still counts as delivered.
func parseAccepted(ctx context.Context, payload []byte) Result {
	var out emailResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		trace.SpanFromContext(ctx).AddEvent("undecodable provider response", trace.WithAttributes(
			attribute.String("error", err.Error()),
			attribute.Int("delivery.response_bytes", len(payload)),
		))
		return Delivered("", nil)
	}
	failed, accepted := out.failures()
	if !accepted {
		return Result{Outcome: OutcomePermanent, Error: ErrAllRecipientsRejected, ProviderMessageID: out.ID, Failures: failed}
	}
	return Delivered(out.ID, failed)
}

func providerError(status int, payload []byte) error {
	var body errorResponse
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return fmt.Errorf("provider returned %d: %s", status, body.Message)
	}
	return fmt.Errorf("provider returned %d", status)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
