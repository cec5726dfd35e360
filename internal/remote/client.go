package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/models"
)

// Client talks to the engagement backend: read-only fetches per data
// domain and sparse partial updates per record. Failures never block the
// orchestration layer: fetches degrade to empty collections and patches
// are fire-and-forget.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Fetch returns the ordered records for a domain. Any transport, status or
// decode failure returns an empty collection so read paths never need to
// special-case fetch errors.
func (c *Client) Fetch(ctx context.Context, domain models.Domain) []models.Record {
	url := fmt.Sprintf("%s/%s", c.base, domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn().Str("domain", string(domain)).Err(err).Msg("fetch request build failed")
		return []models.Record{}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Str("domain", string(domain)).Err(err).Msg("fetch failed")
		return []models.Record{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("domain", string(domain)).Int("status", resp.StatusCode).Msg("fetch returned non-OK")
		return []models.Record{}
	}

	var records []models.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		c.log.Warn().Str("domain", string(domain)).Err(err).Msg("fetch decode failed")
		return []models.Record{}
	}
	if records == nil {
		records = []models.Record{}
	}
	return records
}

// Patch sends a sparse field update for one record. The caller's local
// optimistic state is the source of truth: failures are logged and
// otherwise ignored, with no retry or rollback.
func (c *Client) Patch(ctx context.Context, domain models.Domain, id string, fields map[string]string) {
	url := fmt.Sprintf("%s/%s/%s", c.base, domain, id)

	body, err := json.Marshal(fields)
	if err != nil {
		c.log.Warn().Str("domain", string(domain)).Str("id", id).Err(err).Msg("patch encode failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		c.log.Warn().Str("domain", string(domain)).Str("id", id).Err(err).Msg("patch request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Str("domain", string(domain)).Str("id", id).Err(err).Msg("patch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Str("domain", string(domain)).Str("id", id).Int("status", resp.StatusCode).Msg("patch rejected")
	}
}
