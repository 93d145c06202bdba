// Package crm proxies deal reads and stage updates to the HubSpot CRM API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public HubSpot API host.
	DefaultBaseURL = "https://api.hubapi.com"
	// DealsPageSize is the only page requested when listing deals.
	DealsPageSize = 100

	dealsPath           = "/crm/v3/objects/deals"
	maxErrorSnippetSize = 512

	metricDealsListSuccess  = "crm.deals.list.success"
	metricDealsListFailure  = "crm.deals.list.failure"
	metricDealUpdateSuccess = "crm.deals.update.success"
	metricDealUpdateFailure = "crm.deals.update.failure"
)

var dealProperties = []string{"dealname", "amount", "dealstage", "closedate", "pipeline"}

// Deal is a CRM record representing a sales opportunity.
type Deal struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

// Name returns the dealname property.
func (deal Deal) Name() string {
	return deal.Properties["dealname"]
}

// Amount returns the amount property.
func (deal Deal) Amount() string {
	return deal.Properties["amount"]
}

// StageLabel returns the dealstage property.
func (deal Deal) StageLabel() string {
	return deal.Properties["dealstage"]
}

type dealsPage struct {
	Results []Deal `json:"results"`
}

type updateDealRequest struct {
	Properties map[string]string `json:"properties"`
}

// MetricsRecorder increments counters for CRM call outcomes.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// Client calls the CRM API with a bearer access token. Failures are logged and swallowed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    MetricsRecorder
}

// NewClient constructs a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger, metrics MetricsRecorder) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// ListDeals returns the first page of non-archived deals. Errors yield an empty slice.
func (client *Client) ListDeals(ctx context.Context, accessToken string) []Deal {
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", DealsPageSize))
	query.Set("archived", "false")
	query.Set("properties", strings.Join(dealProperties, ","))

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+dealsPath+"?"+query.Encode(), nil)
	if buildErr != nil {
		client.logFailure(metricDealsListFailure, "crm.deals.list_failed", buildErr)
		return []Deal{}
	}
	request.Header.Set("Accept", "application/json")

	body, callErr := client.do(ctx, accessToken, request)
	if callErr != nil {
		client.logFailure(metricDealsListFailure, "crm.deals.list_failed", callErr)
		return []Deal{}
	}

	var page dealsPage
	if decodeErr := json.Unmarshal(body, &page); decodeErr != nil {
		client.logFailure(metricDealsListFailure, "crm.deals.decode_failed", decodeErr)
		return []Deal{}
	}
	if page.Results == nil {
		page.Results = []Deal{}
	}
	client.metrics.Increment(metricDealsListSuccess)
	return page.Results
}

// UpdateDealStage sets the dealstage property of one deal and reports whether the CRM accepted it.
// An unknown stage is still sent with an empty value.
func (client *Client) UpdateDealStage(ctx context.Context, accessToken string, dealID string, stage Stage) bool {
	if strings.TrimSpace(dealID) == "" {
		client.logFailure(metricDealUpdateFailure, "crm.deals.update_missing_id", fmt.Errorf("deal id is empty"))
		return false
	}
	if !stage.Known() {
		client.logger.Warn("unknown deal stage code; sending empty stage",
			zap.String("code", "crm.deals.unknown_stage"),
			zap.String("deal_id", dealID))
	}

	payload, encodeErr := json.Marshal(updateDealRequest{Properties: map[string]string{"dealstage": stage.Label()}})
	if encodeErr != nil {
		client.logFailure(metricDealUpdateFailure, "crm.deals.update_failed", encodeErr)
		return false
	}
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPatch, client.baseURL+dealsPath+"/"+url.PathEscape(dealID), bytes.NewReader(payload))
	if buildErr != nil {
		client.logFailure(metricDealUpdateFailure, "crm.deals.update_failed", buildErr)
		return false
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	body, callErr := client.do(ctx, accessToken, request)
	if callErr != nil {
		client.logFailure(metricDealUpdateFailure, "crm.deals.update_failed", callErr)
		return false
	}

	var updated Deal
	if decodeErr := json.Unmarshal(body, &updated); decodeErr == nil {
		client.logger.Info("deal stage updated",
			zap.String("deal_id", updated.ID),
			zap.String("dealstage", updated.StageLabel()))
	}
	client.metrics.Increment(metricDealUpdateSuccess)
	return true
}

func (client *Client) do(ctx context.Context, accessToken string, request *http.Request) ([]byte, error) {
	bearerClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, client.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	response, doErr := bearerClient.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return nil, readErr
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &APIError{StatusCode: response.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func (client *Client) logFailure(metric string, code string, err error) {
	client.metrics.Increment(metric)
	client.logger.Error("crm request failed",
		zap.String("code", code),
		zap.Error(err))
}

// APIError is logged when the CRM answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (apiErr *APIError) Error() string {
	return fmt.Sprintf("crm.http_%d: %s", apiErr.StatusCode, apiErr.Body)
}

func snippet(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > maxErrorSnippetSize {
		return trimmed[:maxErrorSnippetSize]
	}
	return trimmed
}
