package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// RESTConfig configures the document gateway client.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RESTConfigFromEnv reads DOCUMENTS_URL and DOCUMENTS_API_KEY.
func RESTConfigFromEnv() RESTConfig {
	return RESTConfig{
		BaseURL: strings.TrimRight(os.Getenv("DOCUMENTS_URL"), "/"),
		APIKey:  os.Getenv("DOCUMENTS_API_KEY"),
		Timeout: 10 * time.Second,
	}
}

// RESTSource queries a document gateway over HTTP:
//
//	POST {base}/v1/collections/{collection}:runQuery
//	{"filters":[...],"limit":100} -> {"documents":[{"id":"...","data":{...}}]}
type RESTSource struct {
	base   string
	apiKey string
	client *http.Client
}

func NewRESTSource(cfg RESTConfig, client *http.Client) *RESTSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RESTSource{base: strings.TrimRight(cfg.BaseURL, "/"), apiKey: cfg.APIKey, client: client}
}

type runQueryRequest struct {
	Filters []entity.Filter `json:"filters"`
	Limit   int             `json:"limit,omitempty"`
}

type runQueryResponse struct {
	Documents []entity.Record `json:"documents"`
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document gateway status %d: %s", e.Code, e.Body)
}

func (s *RESTSource) Query(ctx context.Context, q entity.Query) ([]entity.Record, error) {
	if s.base == "" {
		return nil, fmt.Errorf("document gateway url not configured")
	}
	body, err := json.Marshal(runQueryRequest{Filters: q.Filters, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/collections/%s:runQuery", s.base, url.PathEscape(q.Collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var out runQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	records := make([]entity.Record, 0, len(out.Documents))
	for _, d := range out.Documents {
		if d.ID == "" || d.Data == nil {
			continue
		}
		records = append(records, d)
	}
	return records, nil
}
