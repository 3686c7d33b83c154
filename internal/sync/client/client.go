// Package client talks to the upstream logistics server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/config"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/httputil"
	"github.com/fieldlmis/stocksync/pkg/logger"
)

const dateLayout = "2006-01-02"

// RemoteClient fetches catalog, stock movements and requisitions for one facility.
// Every failure is returned as a SyncError: network errors and non-2xx
// statuses are transport failures, undecodable or invalid payloads are
// malformed responses.
type RemoteClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewRemoteClient creates a new remote client
func NewRemoteClient(cfg config.RemoteConfig, log *logger.Logger) *RemoteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("remote-client"),
	}
}

// FetchCatalog returns the programs and products of the facility
func (c *RemoteClient) FetchCatalog(ctx context.Context, facilityCode string) ([]domain.ProgramWithProducts, error) {
	var resp catalogResponse
	query := url.Values{"facilityCode": {facilityCode}}
	if err := c.get(ctx, "/rest-api/programs", query, &resp); err != nil {
		return nil, err
	}
	if err := httputil.Validate(resp); err != nil {
		return nil, apperrors.Malformed(err, "invalid catalog")
	}
	return resp.toDomain(), nil
}

// FetchMovements returns stock cards with the movements that occurred in
// [start, end). A card with ID <= 0 is not yet known locally.
func (c *RemoteClient) FetchMovements(ctx context.Context, facilityID string, start, end time.Time) ([]*domain.StockCard, error) {
	var resp movementsResponse
	path := "/rest-api/facilities/" + url.PathEscape(facilityID) + "/stockCards"
	query := url.Values{
		"startTime": {start.UTC().Format(dateLayout)},
		"endTime":   {end.UTC().Format(dateLayout)},
	}
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	if err := httputil.Validate(resp); err != nil {
		return nil, apperrors.Malformed(err, "invalid stock movements")
	}
	return resp.toDomain(), nil
}

// FetchRequisitions returns the facility's requisition forms. A null body or a
// missing requisitions field is a malformed response, not an empty list.
func (c *RemoteClient) FetchRequisitions(ctx context.Context, facilityCode string) ([]*domain.RequisitionForm, error) {
	var resp *struct {
		Requisitions *[]json.RawMessage `json:"requisitions"`
	}
	var raw json.RawMessage
	query := url.Values{"facilityCode": {facilityCode}}
	if err := c.get(ctx, "/rest-api/requisitions", query, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.Malformed(err, "decode requisitions")
	}
	if resp == nil || resp.Requisitions == nil {
		return nil, apperrors.Malformed(nil, "requisitions missing from response")
	}

	var full requisitionsResponse
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, apperrors.Malformed(err, "decode requisitions")
	}
	if err := httputil.Validate(full); err != nil {
		return nil, apperrors.Malformed(err, "invalid requisitions")
	}
	return full.toDomain(), nil
}

func (c *RemoteClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Transport(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("remote call failed")
		return apperrors.Transport(err, "call "+path)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("remote call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Transport(
			fmt.Errorf("status %d: %s", resp.StatusCode, body),
			"call "+path,
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Malformed(err, "decode "+path)
	}
	return nil
}
