package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/logger"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// Default client settings.
const (
	DefaultTextTimeout      = 30 * time.Second
	DefaultMediaTimeout     = 120 * time.Second
	DefaultMaxResponseBytes = 10 * 1024 * 1024 // 10 MB
	AgentCardPath           = "/.well-known/agent-card.json"
)

// Resolver maps a destination name to its base URL.
type Resolver interface {
	Resolve(name string) (string, error)
}

// Client calls named workers over the A2A protocol. A Client is safe for
// concurrent use; request ids come from an atomic counter and breaker state
// is shared per destination.
type Client struct {
	source           string
	resolver         Resolver
	httpClient       *http.Client
	breakers         *resilience.BreakerSet
	retry            *resilience.RetryPolicy
	observer         Observer
	logger           *slog.Logger
	textTimeout      time.Duration
	mediaTimeout     time.Duration
	maxResponseBytes int64
	dumpLimit        int
	nextID           atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreakers guards every destination with a circuit breaker from set.
func WithBreakers(set *resilience.BreakerSet) Option {
	return func(c *Client) { c.breakers = set }
}

// WithRetry retries transient failures under policy.
func WithRetry(policy resilience.RetryPolicy) Option {
	return func(c *Client) { c.retry = &policy }
}

// WithObserver receives one event per call.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeouts sets the per-attempt budgets for text-only and media calls.
func WithTimeouts(text, media time.Duration) Option {
	return func(c *Client) {
		if text > 0 {
			c.textTimeout = text
		}
		if media > 0 {
			c.mediaTimeout = media
		}
	}
}

// WithMaxResponseBytes bounds how much of a reply body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// NewClient creates a client that identifies itself as source.
func NewClient(source string, resolver Resolver, opts ...Option) *Client {
	c := &Client{
		source:           source,
		resolver:         resolver,
		httpClient:       &http.Client{},
		textTimeout:      DefaultTextTimeout,
		mediaTimeout:     DefaultMediaTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
		dumpLimit:        DefaultDumpLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// CallOptions carries the optional inputs of a call.
type CallOptions struct {
	Media     *domain.Media
	UserID    string
	SessionID string
	Encode    EncodeOptions
}

// CallOption sets one optional call input.
type CallOption func(*CallOptions)

// WithMedia attaches an image or video.
func WithMedia(m domain.Media) CallOption {
	return func(o *CallOptions) { o.Media = &m }
}

// WithUser forwards the end user and session ids in params.
func WithUser(userID, sessionID string) CallOption {
	return func(o *CallOptions) {
		o.UserID = userID
		o.SessionID = sessionID
	}
}

// WithContextID sets message.contextId.
func WithContextID(id string) CallOption {
	return func(o *CallOptions) { o.Encode.ContextID = id }
}

// WithTaskID sets message.taskId.
func WithTaskID(id string) CallOption {
	return func(o *CallOptions) { o.Encode.TaskID = id }
}

// WithMetadata sets message.metadata.
func WithMetadata(md map[string]any) CallOption {
	return func(o *CallOptions) { o.Encode.Metadata = md }
}

// Call sends task to destination and returns the decoded answer.
//
// Errors: domain.ErrUnknownDestination when the name is not configured (no
// network I/O happens), domain.ErrValidation for bad input,
// domain.ErrDestinationUnavailable for HTTP 404, 5xx and transport failures,
// domain.ErrTimeout when the per-attempt budget runs out,
// *domain.RemoteError for a JSON-RPC error reply, *domain.ProtocolError for
// any other malformed reply, and domain.ErrCircuitOpen when the destination's
// breaker rejects the call.
func (c *Client) Call(ctx context.Context, destination, task string, opts ...CallOption) (*domain.Answer, error) {
	var co CallOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.UserID == "" {
		co.UserID = domain.UserIDFromContext(ctx)
	}
	if co.SessionID == "" {
		co.SessionID = domain.SessionIDFromContext(ctx)
	}

	ctx, span := tracer.StartSpan(ctx, "a2a.call")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("a2a.source", c.source),
		tracer.StringAttr("a2a.destination", destination),
		tracer.BoolAttr("a2a.media", co.Media != nil),
	)

	start := time.Now()
	attempts := 0
	ans, err := c.call(ctx, destination, task, co, &attempts)

	ev := CallEvent{
		Source:      c.source,
		Destination: destination,
		UserID:      co.UserID,
		SessionID:   co.SessionID,
		Latency:     time.Since(start),
		Success:     err == nil,
		Attempts:    attempts,
		WithMedia:   co.Media != nil,
	}
	span.SetAttributes(tracer.IntAttr("a2a.attempts", attempts))
	if err != nil {
		ev.Code = domain.ErrorCodeOf(err)
		span.SetAttributes(tracer.StringAttr("a2a.error_code", string(ev.Code)))
		tracer.RecordError(span, err)
		c.logger.Error("a2a call failed", "destination", destination, "error", err)
	} else {
		tracer.SetOK(span)
	}
	if c.observer != nil {
		c.observer.ObserveCall(ctx, ev)
	}
	return ans, err
}

func (c *Client) call(ctx context.Context, destination, task string, co CallOptions, attempts *int) (*domain.Answer, error) {
	endpoint, err := c.resolver.Resolve(destination)
	if err != nil {
		return nil, err
	}

	msg, err := Encode(task, co.Media, co.Encode)
	if err != nil {
		return nil, err
	}

	timeout := c.textTimeout
	if co.Media != nil {
		timeout = c.mediaTimeout
	}
	c.logger.Debug("calling agent",
		"destination", destination,
		"endpoint", endpoint,
		"task", truncate(task, 150),
		"media", co.Media != nil,
	)

	exchange := func(ctx context.Context) (*domain.Answer, error) {
		*attempts++
		return c.exchange(ctx, destination, endpoint, msg, co, timeout)
	}

	attempt := exchange
	if c.retry != nil {
		policy := *c.retry
		attempt = func(ctx context.Context) (*domain.Answer, error) {
			return resilience.Retry(ctx, policy, exchange,
				resilience.WithRetryLogger(c.logger, "a2a.call:"+destination))
		}
	}

	if c.breakers == nil {
		return attempt(ctx)
	}
	var ans *domain.Answer
	err = c.breakers.Get(destination).Execute(func() error {
		var callErr error
		ans, callErr = attempt(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// exchange performs one HTTP round trip under its own deadline.
func (c *Client) exchange(ctx context.Context, destination, endpoint string, msg Message, co CallOptions, timeout time.Duration) (*domain.Answer, error) {
	id := c.nextID.Add(1)
	body, err := newRequestBody(id, msg, co.UserID, co.SessionID)
	if err != nil {
		return nil, domain.NewDomainError("A2A.Call", domain.ErrValidation, err.Error())
	}
	if co.Media != nil {
		c.logger.Debug("sending a2a request", "destination", destination, "request", Sanitize(body, c.dumpLimit))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError("A2A.Call", domain.ErrUnknownDestination,
			fmt.Sprintf("%s: bad endpoint %q", destination, endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, destination, timeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, destination, timeout, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewDomainError("A2A.Call", domain.ErrDestinationUnavailable,
			fmt.Sprintf("agent %q not found at %s", destination, endpoint))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.NewDomainError("A2A.Call", domain.ErrDestinationUnavailable,
			fmt.Sprintf("HTTP %d from %s", resp.StatusCode, destination))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &domain.ProtocolError{
			Destination: destination,
			Reason:      fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
			Dump:        Sanitize(respBody, c.dumpLimit),
		}
	}

	return c.parseReply(destination, id, respBody)
}

func (c *Client) transportError(parent, attemptCtx context.Context, destination string, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("a2a call to %s: %w", destination, parent.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return domain.NewDomainError("A2A.Call", domain.ErrTimeout,
			fmt.Sprintf("%s did not answer within %s", destination, timeout))
	default:
		return domain.NewDomainError("A2A.Call", domain.ErrDestinationUnavailable,
			fmt.Sprintf("%s: %s", destination, logger.RedactString(err.Error())))
	}
}

// parseReply classifies a 2xx body as a result, an error, or a protocol
// violation. Members that are JSON null count as absent.
func (c *Client) parseReply(destination string, id int64, body []byte) (*domain.Answer, error) {
	protoErr := func(reason string) error {
		return &domain.ProtocolError{
			Destination: destination,
			Reason:      reason,
			Dump:        Sanitize(body, c.dumpLimit),
		}
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil || members == nil {
		return nil, protoErr("reply is not a JSON object")
	}

	idRaw, ok := members["id"]
	if !ok || isNull(idRaw) {
		return nil, protoErr("reply has no id")
	}
	if !idMatches(idRaw, id) {
		return nil, protoErr(fmt.Sprintf("reply id %s does not match request id %d", string(idRaw), id))
	}

	resultRaw, hasResult := members["result"]
	hasResult = hasResult && !isNull(resultRaw)
	errRaw, hasError := members["error"]
	hasError = hasError && !isNull(errRaw)

	switch {
	case hasResult && hasError:
		return nil, protoErr("reply has both result and error")
	case hasError:
		var rpcErr RPCError
		if err := json.Unmarshal(errRaw, &rpcErr); err != nil {
			return nil, protoErr("malformed error object")
		}
		return nil, &domain.RemoteError{Destination: destination, Code: rpcErr.Code, Message: rpcErr.Message}
	case hasResult:
		ans := ExtractAnswer(resultRaw, c.logger)
		c.logger.Debug("a2a reply decoded", "destination", destination, "chars", len(ans.Text))
		return &ans, nil
	default:
		return nil, protoErr("reply has neither result nor error")
	}
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// idMatches accepts the id echoed as a number or as its decimal string.
func idMatches(raw json.RawMessage, want int64) bool {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if got, err := n.Int64(); err == nil {
			return got == want
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == strconv.FormatInt(want, 10)
	}
	return false
}

// Health fetches destination's agent card. It never returns an error; an
// unreachable or unknown agent is reported as unhealthy.
func (c *Client) Health(ctx context.Context, destination string) domain.HealthStatus {
	status := domain.HealthStatus{Agent: destination, Status: domain.StatusUnhealthy}

	endpoint, err := c.resolver.Resolve(destination)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+AgentCardPath, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("health check failed", "agent", destination, "error", err)
		status.Error = err.Error()
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		c.logger.Warn("health check failed", "agent", destination, "status", resp.StatusCode)
		return status
	}

	var card domain.AgentCard
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&card); err != nil {
		status.Error = "invalid agent card: " + err.Error()
		return status
	}

	status.Status = domain.StatusHealthy
	status.Name = card.Name
	if status.Name == "" {
		status.Name = destination
	}
	status.Capabilities = card.Capabilities
	return status
}
