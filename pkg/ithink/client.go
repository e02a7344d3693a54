package ithink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
)

const (
	defaultBaseURL           = "https://api.ithinklogistics.com/api_v3"
	orderListPath            = "order/get_details.json"
	trackPath                = "order/track.json"
	trackingURLPrefix        = "https://www.ithinklogistics.co.in/postship/tracking/"
	dateLayout               = "2006-01-02"
	errorBodyReadLimit int64 = 1024

	// TrackBatchLimit is the carrier-imposed cap on AWBs per tracking request.
	TrackBatchLimit = 10
)

var (
	errCredentialsRequired = errors.New("ithink access token and secret key are required")
)

// Client wraps the iThink Logistics order-details and tracking APIs.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	secretKey   string
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

// NewClient builds the iThink client given the account credentials.
func NewClient(accessToken, secretKey string, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	secret := strings.TrimSpace(secretKey)
	if token == "" || secret == "" {
		return nil, errCredentialsRequired
	}

	client := &Client{
		accessToken: token,
		secretKey:   secret,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// FlexString tolerates string or numeric JSON values; the carrier is not
// consistent about amount and weight types.
type FlexString string

// UnmarshalJSON accepts both quoted and bare scalar values.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the underlying value.
func (f FlexString) String() string {
	return string(f)
}

// OrderRecord is one shipment row from the order-details API, keyed by AWB in
// the response envelope.
type OrderRecord struct {
	CustomerName        string     `json:"customer_name"`
	CustomerPhone       string     `json:"customer_phone"`
	CustomerMobile      string     `json:"customer_mobile"`
	CustomerAddress     string     `json:"customer_address"`
	CustomerPincode     FlexString `json:"customer_pincode"`
	CODAmount           FlexString `json:"cod_amount"`
	TotalAmount         FlexString `json:"total_amount"`
	Weight              FlexString `json:"phy_weight"`
	OrderDate           string     `json:"order_date"`
	AWBCreatedDate      string     `json:"awb_created_date"`
	LatestCourierStatus string     `json:"latest_courier_status"`
}

// Phone returns the first populated phone field.
func (r OrderRecord) Phone() string {
	if strings.TrimSpace(r.CustomerPhone) != "" {
		return strings.TrimSpace(r.CustomerPhone)
	}
	return strings.TrimSpace(r.CustomerMobile)
}

// CustomerDetails carries the contact block returned by the track API.
type CustomerDetails struct {
	CustomerName   string `json:"customer_name"`
	CustomerPhone  string `json:"customer_phone"`
	CustomerMobile string `json:"customer_mobile"`
}

// Phone returns the first populated phone field.
func (d CustomerDetails) Phone() string {
	if strings.TrimSpace(d.CustomerMobile) != "" {
		return strings.TrimSpace(d.CustomerMobile)
	}
	return strings.TrimSpace(d.CustomerPhone)
}

// TrackInfo is one shipment's tracking snapshot, keyed by AWB.
type TrackInfo struct {
	CurrentStatus   string          `json:"current_status"`
	LastScanDetails json.RawMessage `json:"last_scan_details"`
	CustomerDetails CustomerDetails `json:"customer_details"`
}

type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// OrdersByDateRange fetches all shipments booked inside the window, keyed by AWB.
func (c *Client) OrdersByDateRange(ctx context.Context, start, end time.Time) (map[string]OrderRecord, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ithink client not configured")
	}
	if end.Before(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end date precedes start date")
	}

	payload := map[string]any{
		"data": map[string]any{
			"start_date":   start.Format(dateLayout),
			"end_date":     end.Format(dateLayout),
			"access_token": c.accessToken,
			"secret_key":   c.secretKey,
		},
	}

	var orders map[string]OrderRecord
	if err := c.post(ctx, orderListPath, payload, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// TrackOrders fetches tracking snapshots for up to TrackBatchLimit AWBs.
func (c *Client) TrackOrders(ctx context.Context, awbs []string) (map[string]TrackInfo, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ithink client not configured")
	}
	if len(awbs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one awb is required")
	}
	if len(awbs) > TrackBatchLimit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d awbs per tracking request", TrackBatchLimit))
	}

	payload := map[string]any{
		"data": map[string]any{
			"awb_number_list": strings.Join(awbs, ","),
			"access_token":    c.accessToken,
			"secret_key":      c.secretKey,
		},
	}

	var tracks map[string]TrackInfo
	if err := c.post(ctx, trackPath, payload, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// TrackingURL returns the public tracking page for the AWB.
func TrackingURL(awb string) string {
	return trackingURLPrefix + strings.TrimSpace(awb)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal ithink request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build ithink request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute ithink request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "ithink request failed")
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode ithink response")
	}
	if envelope.Status != "success" {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("ithink reported status %q", envelope.Status))
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode ithink data")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}
