package remote

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

	"claw-companion/backend/internal/models"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/resilience"
)

// APIError represents a non-2xx response from the remote log
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote log error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote log error (%d)", e.Status)
}

// Retryable reports whether the call may succeed on a later attempt
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Options configures a Client
type Options struct {
	BaseURL  string
	Token    string
	DeviceID string
	Timeout  time.Duration
}

// Client talks to the authoritative remote message log
type Client struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

// NewClient constructs a remote log client
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	log = log.WithComponent("remote")

	bcfg := resilience.DefaultConfig("remote-log")
	bcfg.Counts = func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) {
			return false
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Retryable()
		}
		return true
	}

	return &Client{
		baseURL:    base,
		token:      opts.Token,
		deviceID:   opts.DeviceID,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.NewCircuitBreaker(bcfg, log),
		log:        log,
	}, nil
}

// Breaker exposes the circuit breaker state for health reporting
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// remoteID is the log's immutable identifier. The log has served it both as
// a JSON number and as an opaque string.
type remoteID string

func (id *remoteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("remote id: %w", err)
		}
		*id = remoteID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*id = remoteID(n.String())
	return nil
}

type wireMessage struct {
	ID           remoteID    `json:"id"`
	EntityID     int         `json:"entityId"`
	EntityName   string      `json:"entityName"`
	CharacterTag string      `json:"character"`
	Text         string      `json:"text"`
	Source       string      `json:"source"`
	IsFromUser   bool        `json:"isFromUser"`
	Timestamp    int64       `json:"timestamp"`
	MediaType    string      `json:"mediaType"`
	TargetIDs    []string    `json:"targetIds"`
	IsDelivered  bool        `json:"is_delivered"`
	DeliveredTo  []string    `json:"delivered_to"`
}

type historyResponse struct {
	Success  bool          `json:"success"`
	Messages []wireMessage `json:"messages"`
}

func (w wireMessage) event() models.RemoteEvent {
	return models.RemoteEvent{
		ID:           string(w.ID),
		EntityID:     w.EntityID,
		EntityName:   w.EntityName,
		CharacterTag: w.CharacterTag,
		Text:         w.Text,
		Source:       w.Source,
		FromUser:     w.IsFromUser,
		Timestamp:    w.Timestamp,
		MediaType:    w.MediaType,
		TargetIDs:    w.TargetIDs,
		Delivered:    w.IsDelivered,
		DeliveredTo:  w.DeliveredTo,
	}
}

// FetchSince returns remote events newer than since (ms), oldest first
func (c *Client) FetchSince(ctx context.Context, since int64, limit int) ([]models.RemoteEvent, error) {
	query := url.Values{}
	query.Set("deviceId", c.deviceID)
	query.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp historyResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/api/chat/history", query, nil, &resp)
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.RemoteEvent, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		events = append(events, m.event())
	}
	return events, nil
}

type speakRequest struct {
	DeviceID  string   `json:"deviceId"`
	EntityIDs []string `json:"entityIds"`
	Text      string   `json:"text"`
	Source    string   `json:"source"`
}

type speakResponse struct {
	Success   bool        `json:"success"`
	MessageID remoteID `json:"messageId"`
}

// SubmitUserMessage hands a locally composed message to the remote log and
// returns the identifier the remote assigned to it
func (c *Client) SubmitUserMessage(ctx context.Context, targets []string, text, source string) (string, error) {
	req := speakRequest{DeviceID: c.deviceID, EntityIDs: targets, Text: text, Source: source}
	var resp speakResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/client/speak", nil, req, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.MessageID == "" {
		return "", errors.New("remote log accepted message without an id")
	}
	return string(resp.MessageID), nil
}

// SubmitFinding posts an integrity report. It bypasses the breaker so that
// reports describing an outage are not themselves suppressed by it.
func (c *Client) SubmitFinding(ctx context.Context, report models.IntegrityReport) error {
	if report.DeviceID == "" {
		report.DeviceID = c.deviceID
	}
	return c.doJSON(ctx, http.MethodPost, "/api/chat/integrity-report", nil, report, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		c.log.Debug("remote call failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
