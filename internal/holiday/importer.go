// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package holiday imports the yearly holiday calendar from the external
// holidays API into the store.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/plusclinic/schedlive/internal/store"
)

// brazilianStates are the UF codes the holidays API accepts.
var brazilianStates = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {},
	"ES": {}, "GO": {}, "MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {},
	"PB": {}, "PR": {}, "PE": {}, "PI": {}, "RJ": {}, "RN": {}, "RS": {},
	"RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

// ValidState reports whether uf is a known Brazilian state code.
func ValidState(uf string) bool {
	_, ok := brazilianStates[strings.ToUpper(uf)]
	return ok
}

// Repository is the persistence surface the importer needs.
type Repository interface {
	Upsert(ctx context.Context, holiday store.Holiday) error
}

// Importer fetches a year's holidays and upserts them into the store.
// Fetches are retried with capped exponential backoff since the external
// API is flaky; upserts are not retried (the job itself is re-runnable).
type Importer struct {
	httpClient *http.Client
	baseURL    string
	token      string
	repo       Repository
}

// NewImporter builds an importer for the invertexto-compatible API.
func NewImporter(baseURL, token string, repo Repository, timeout time.Duration) *Importer {
	return &Importer{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		repo:       repo,
	}
}

type apiHoliday struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Level string `json:"level"`
}

// Import fetches the given year's holidays, optionally scoped to one state,
// and stores them. It returns the number of holidays imported.
func (i *Importer) Import(ctx context.Context, year int, state string) (int, error) {
	if state != "" && !ValidState(state) {
		return 0, oops.Code("INVALID_STATE").With("state", state).Errorf("unknown state code")
	}

	url := fmt.Sprintf("%s/v1/holidays/%d", i.baseURL, year)
	if state != "" {
		url += "?state=" + strings.ToUpper(state)
	}

	var holidays []apiHoliday
	backoff := retry.WithMaxRetries(4, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fetched, err := i.fetch(ctx, url)
		if err != nil {
			return err
		}
		holidays = fetched
		return nil
	})
	if err != nil {
		return 0, oops.Code("HOLIDAY_FETCH_FAILED").With("year", year).Wrap(err)
	}

	imported := 0
	for _, h := range holidays {
		date, err := time.Parse(time.DateOnly, h.Date)
		if err != nil {
			slog.Warn("skipping holiday with unparseable date", "date", h.Date, "name", h.Name)
			continue
		}
		err = i.repo.Upsert(ctx, store.Holiday{
			Date:  date,
			Name:  h.Name,
			Type:  h.Type,
			Level: h.Level,
		})
		if err != nil {
			return imported, oops.Code("HOLIDAY_IMPORT_FAILED").With("name", h.Name).Wrap(err)
		}
		imported++
	}
	return imported, nil
}

// fetch performs one API call. 5xx and transport errors are retryable;
// anything else aborts the retry loop.
func (i *Importer) fetch(ctx context.Context, url string) ([]apiHoliday, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+i.token)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, retry.RetryableError(oops.With("status", resp.StatusCode).Errorf("holidays API error"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.With("status", resp.StatusCode).Errorf("holidays API rejected the request")
	}

	var holidays []apiHoliday
	if err := json.NewDecoder(resp.Body).Decode(&holidays); err != nil {
		return nil, oops.Wrap(err)
	}
	return holidays, nil
}
