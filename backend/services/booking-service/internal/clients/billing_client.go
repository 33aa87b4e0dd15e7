package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/service"
)

const internalTokenHeader = "X-Internal-Token"

// BillingClient resolves prices and submits invoices to billing-service.
type BillingClient struct {
	base *BaseClient
}

// NewBillingClient returns client instance. token is sent on every request
// when set.
func NewBillingClient(baseURL, token string, httpClient HTTPDoer) *BillingClient {
	headers := map[string]string{}
	if token != "" {
		headers[internalTokenHeader] = token
	}
	return &BillingClient{base: NewBaseClient(baseURL, httpClient, headers)}
}

type priceResponse struct {
	UnitPrice float64 `json:"unit_price"`
	Currency  string  `json:"currency"`
	RuleID    string  `json:"rule_id"`
}

// UnitPrice implements service.PriceLookup.
func (c *BillingClient) UnitPrice(ctx context.Context, q service.PriceQuery) (float64, error) {
	params := url.Values{}
	params.Set("station_id", q.StationID)
	if q.VehicleType != "" {
		params.Set("vehicle_type", q.VehicleType)
	}
	params.Set("at", q.At.UTC().Format(time.RFC3339))

	var resp priceResponse
	if err := c.base.DoJSON(ctx, http.MethodGet, "/internal/pricing?"+params.Encode(), nil, &resp); err != nil {
		return 0, fmt.Errorf("billing: unit price: %w", err)
	}
	if resp.UnitPrice < 0 {
		return 0, fmt.Errorf("billing: negative unit price %v", resp.UnitPrice)
	}
	return resp.UnitPrice, nil
}

type invoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
}

// SubmitInvoice implements service.InvoiceSubmitter. Billing deduplicates on
// booking id, so resubmission returns the same invoice id.
func (c *BillingClient) SubmitInvoice(ctx context.Context, inv models.Invoice) (string, error) {
	var resp invoiceResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/internal/invoices", inv, &resp); err != nil {
		return "", fmt.Errorf("billing: submit invoice: %w", err)
	}
	if resp.InvoiceID == "" {
		return "", errors.New("billing: submit invoice: empty invoice id")
	}
	return resp.InvoiceID, nil
}
