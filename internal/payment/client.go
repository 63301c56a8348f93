package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type ClientConf struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// Client creates hosted checkout sessions over HTTP.
type Client struct {
	conf       ClientConf
	httpClient *http.Client
}

func NewClient(conf ClientConf) *Client {
	return &Client{
		conf: conf,
		httpClient: &http.Client{
			Timeout: conf.Timeout,
		},
	}
}

// CreateSession opens a checkout session for the exact amount in minor units.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d: %w", req.AmountCents, ErrGateway)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.ReservationID)
	form.Set("metadata[reservation_id]", req.ReservationID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("success_url", c.conf.SuccessURL)
	form.Set("cancel_url", c.conf.CancelURL)

	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		strings.TrimRight(c.conf.BaseURL, "/")+"/v1/checkout/sessions",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.conf.APIKey)
	httpReq.Header.Set("Idempotency-Key", "checkout-"+req.ReservationID+"-"+strconv.FormatInt(req.AmountCents, 10))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v: %w", err, ErrGateway)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:gomnd

		return nil, fmt.Errorf("gateway returned status %d: %s: %w", resp.StatusCode, string(body), ErrGateway)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("parse session: %v: %w", err, ErrGateway)
	}

	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("session without id or url: %w", ErrGateway)
	}

	return &session, nil
}
