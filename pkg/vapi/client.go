package vapi

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

	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
)

const (
	defaultBaseURL           = "https://api.vapi.ai"
	defaultCountryCode       = "+91"
	errorBodyReadLimit int64 = 1024

	// ListCallsLimit is the provider-imposed page cap on the list-calls API.
	ListCallsLimit = 100
)

var (
	errPrivateKeyRequired = errors.New("vapi private key is required")
)

// Client wraps the Vapi voice-AI call APIs.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	privateKey  string
	countryCode string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithCountryCode overrides the default country code applied to bare numbers.
func WithCountryCode(code string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(code)
		if trimmed != "" {
			c.countryCode = trimmed
		}
	}
}

// NewClient builds the Vapi client given the account private key.
func NewClient(privateKey string, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(privateKey)
	if key == "" {
		return nil, errPrivateKeyRequired
	}

	client := &Client{
		privateKey:  key,
		baseURL:     defaultBaseURL,
		countryCode: defaultCountryCode,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.countryCode == "" {
		client.countryCode = defaultCountryCode
	}

	return client, nil
}

// Customer is the callee block on call objects.
type Customer struct {
	Number string `json:"number"`
}

// Analysis carries the assistant's post-call evaluation.
type Analysis struct {
	SuccessEvaluation json.RawMessage `json:"successEvaluation,omitempty"`
	Summary           string          `json:"summary,omitempty"`
}

// Artifact holds recording and transcript material attached to a call.
type Artifact struct {
	RecordingURL       string `json:"recordingUrl,omitempty"`
	StereoRecordingURL string `json:"stereoRecordingUrl,omitempty"`
	Transcript         string `json:"transcript,omitempty"`
}

// Call is the provider call object. Raw keeps the undecoded payload for the
// attempt ledger.
type Call struct {
	ID                 string     `json:"id"`
	AssistantID        string     `json:"assistantId"`
	PhoneNumberID      string     `json:"phoneNumberId"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	EndedReason        string     `json:"endedReason"`
	Cost               float64    `json:"cost"`
	DurationSeconds    *int       `json:"durationSeconds"`
	Customer           Customer   `json:"customer"`
	Analysis           *Analysis  `json:"analysis"`
	Artifact           *Artifact  `json:"artifact"`
	RecordingURL       string     `json:"recordingUrl"`
	StereoRecordingURL string     `json:"stereoRecordingUrl"`
	Transcript         string     `json:"transcript"`
	CreatedAt          *time.Time `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt"`

	Raw json.RawMessage `json:"-"`
}

// BestRecordingURL checks the known recording locations in priority order.
func (c *Call) BestRecordingURL() string {
	if c == nil {
		return ""
	}
	candidates := []string{c.RecordingURL, c.StereoRecordingURL}
	if c.Artifact != nil {
		candidates = append(candidates, c.Artifact.RecordingURL, c.Artifact.StereoRecordingURL)
	}
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// BestTranscript returns the first populated transcript field.
func (c *Call) BestTranscript() string {
	if c == nil {
		return ""
	}
	if strings.TrimSpace(c.Transcript) != "" {
		return c.Transcript
	}
	if c.Artifact != nil {
		return c.Artifact.Transcript
	}
	return ""
}

// TruthyEvaluation reports whether a successEvaluation value counts as a pass:
// boolean true, or the string "true" in any casing.
func TruthyEvaluation(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}

// CreateCallRequest describes one outbound call placement.
type CreateCallRequest struct {
	CustomerNumber string
	AssistantID    string
	PhoneNumberID  string
	Variables      map[string]string
}

// CreateCall places an outbound phone call and returns the accepted call object.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*Call, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vapi client not configured")
	}
	number := c.NormalizeNumber(req.CustomerNumber)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer number is required")
	}
	if strings.TrimSpace(req.AssistantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assistant id is required")
	}

	payload := map[string]any{
		"assistantId":   req.AssistantID,
		"customer":      map[string]string{"number": number},
		"phoneNumberId": req.PhoneNumberID,
	}
	if len(req.Variables) > 0 {
		payload["assistantOverrides"] = map[string]any{"variableValues": req.Variables}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal call request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("call/phone"), bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build call request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute call request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "call placement failed")
	}

	return decodeCall(resp.Body)
}

// GetCall fetches one call object by provider id.
func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vapi client not configured")
	}
	trimmed := strings.TrimSpace(callID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "call id is required")
	}

	endpoint := fmt.Sprintf("%s/call/%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build get-call request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute get-call request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "call not found")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "get-call request failed")
	}

	return decodeCall(resp.Body)
}

// ListCalls pages through calls created strictly after the given time. The
// limit is clamped to the provider maximum; zero time lists from the start.
func (c *Client) ListCalls(ctx context.Context, limit int, createdAtGt time.Time) ([]Call, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vapi client not configured")
	}
	if limit <= 0 || limit > ListCallsLimit {
		limit = ListCallsLimit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if !createdAtGt.IsZero() {
		query.Set("createdAtGt", createdAtGt.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/call?%s", strings.TrimRight(c.baseURL, "/"), query.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build list-calls request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute list-calls request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "list-calls request failed")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read list-calls response")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode list-calls response")
	}

	calls := make([]Call, 0, len(items))
	for _, item := range items {
		var call Call
		if err := json.Unmarshal(item, &call); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode call object")
		}
		call.Raw = item
		calls = append(calls, call)
	}
	return calls, nil
}

// NormalizeNumber trims the value and prefixes the default country code when
// the number has no explicit one.
func (c *Client) NormalizeNumber(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return trimmed
	}
	return c.countryCode + trimmed
}

func decodeCall(body io.Reader) (*Call, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read call response")
	}
	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode call response")
	}
	call.Raw = raw
	return &call, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.privateKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}
