package main

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

	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/ingest"
)

// apiClient talks to a running threadwise server, which holds the SQLite and Bleve locks.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) get(path string, query url.Values, out interface{}) error {
	return c.do(http.MethodGet, path, query, nil, http.StatusOK, out)
}

func (c *apiClient) post(path string, query url.Values, body interface{}, want int, out interface{}) error {
	return c.do(http.MethodPost, path, query, body, want, out)
}

func (c *apiClient) delete(path string, query url.Values, out interface{}) error {
	return c.do(http.MethodDelete, path, query, nil, http.StatusOK, out)
}

// do sends body as JSON and decodes the response into out when out is non-nil.
// A status other than want is returned as an error carrying the server's message.
func (c *apiClient) do(method, path string, query url.Values, body interface{}, want int, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return serverError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// ingestFile decodes an export locally and posts its messages, so JSON Lines files work too.
func (c *apiClient) ingestFile(ctx context.Context, path string) (*engine.IngestResult, error) {
	res, err := ingest.DecodeFile(ctx, path, ingest.Options{})
	if err != nil {
		return nil, err
	}
	var out engine.IngestResult
	body := map[string]interface{}{"messages": res.Messages}
	if err := c.post("/api/v1/messages", url.Values{"source": {path}}, body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	out.Skipped += res.Skipped
	return &out, nil
}
