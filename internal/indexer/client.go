// Package indexer consumes the read-only pool-indexer HTTP API: health,
// open intents, and the latest-indexed hub block number. Grounded on
// original_source/apps/solver/src/indexer.rs.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
)

// OpenIntent mirrors one row of GET /pool_open_intents.
type OpenIntent struct {
	ID           string          `json:"id"`
	IntentType   int16           `json:"intent_type"`
	IntentSpecs  json.RawMessage `json:"intent_specs"`
	EscrowToken  string          `json:"escrow_token"`
	EscrowAmount Amount          `json:"escrow_amount"`
	Solver       *string         `json:"solver"`
	Deadline     int64           `json:"deadline"`
	Solved       bool            `json:"solved"`
	Funded       bool            `json:"funded"`
	Settled      bool            `json:"settled"`
	Closed       bool            `json:"closed"`
}

// Amount tolerates escrow_amount arriving as either a JSON number or a JSON
// string, matching original_source/indexer.rs::de_string_or_number.
type Amount struct {
	Value string // decimal string, caller parses into the precision it needs
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		a.Value = asString
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("escrow_amount neither string nor number: %w", err)
	}
	a.Value = asNumber.String()
	return nil
}

// Client is the narrow read-only surface the dispatcher consumes.
type Client interface {
	Health(ctx context.Context) error
	OpenIntents(ctx context.Context, limit int) ([]OpenIntent, error)
	IntentByID(ctx context.Context, id string) (*OpenIntent, error)
	LatestIndexedBlock(ctx context.Context) (int64, error)
}

// HTTPClient is the retryablehttp-backed implementation, tolerant of
// transient indexer flakiness the way the dispatcher's own retry policy is
// tolerant of transient chain RPC flakiness.
type HTTPClient struct {
	BaseURL string
	http    *retryablehttp.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &HTTPClient{BaseURL: baseURL, http: rc}
}

func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("indexer health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("indexer health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) OpenIntents(ctx context.Context, limit int) ([]OpenIntent, error) {
	u := fmt.Sprintf("%s/pool_open_intents?order=valid_from_seq.asc&limit=%d", c.BaseURL, limit)
	var out []OpenIntent
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("open intents: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) IntentByID(ctx context.Context, id string) (*OpenIntent, error) {
	u := fmt.Sprintf("%s/pool_intents?id=eq.%s&limit=1", c.BaseURL, url.QueryEscape(id))
	var out []OpenIntent
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("intent by id: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (c *HTTPClient) LatestIndexedBlock(ctx context.Context) (int64, error) {
	u := fmt.Sprintf("%s/event_appended?stream=eq.pool&order=block_number.desc&limit=1&select=block_number", c.BaseURL)
	var rows []struct {
		BlockNumber json.Number `json:"block_number"`
	}
	if err := c.getJSON(ctx, u, &rows); err != nil {
		return 0, fmt.Errorf("latest indexed block: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(rows[0].BlockNumber.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block_number: %w", err)
	}
	return n, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
