// File: internal/infra/adapters/payment/http_processor.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/ports/adapter"
)

var _ adapter.PaymentProcessor = (*HTTPProcessor)(nil)

// HTTPProcessor talks to the billing provider's REST API with an API key.
// Hosted checkout, subscription lookup and cancellation are the only calls
// the booking engine needs.
type HTTPProcessor struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	client     *http.Client
}

func NewHTTPProcessor(baseURL, apiKey, successURL, cancelURL string, timeout time.Duration) (*HTTPProcessor, error) {
	if apiKey == "" {
		return nil, errors.New("payment api key empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid payment base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProcessor) Name() string { return "http" }

func (p *HTTPProcessor) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionParams) (adapter.CheckoutSession, error) {
	payload := map[string]any{
		"customer":    in.CustomerRef,
		"price":       in.PriceRef,
		"mode":        string(in.Mode),
		"metadata":    in.Metadata,
		"success_url": p.successURL,
		"cancel_url":  p.cancelURL,
	}
	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/checkout/sessions", payload, &out); err != nil {
		return adapter.CheckoutSession{}, err
	}
	if out.ID == "" || out.URL == "" {
		return adapter.CheckoutSession{}, errors.New("checkout session response incomplete")
	}
	return adapter.CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

func (p *HTTPProcessor) NextRenewal(ctx context.Context, subscriptionID string) (time.Time, error) {
	var out struct {
		CurrentPeriodEnd int64 `json:"current_period_end"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &out); err != nil {
		return time.Time{}, err
	}
	if out.CurrentPeriodEnd == 0 {
		return time.Time{}, errors.New("subscription has no current period")
	}
	return time.Unix(out.CurrentPeriodEnd, 0).UTC(), nil
}

func (p *HTTPProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return p.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, nil)
}

// do sends one JSON request. Transport failures and 5xx answers wrap
// domain.ErrExternalUnavailable; 4xx answers carry the provider message.
func (p *HTTPProcessor) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s %s: http %d: %w", method, path, resp.StatusCode, domain.ErrExternalUnavailable)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, e.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
