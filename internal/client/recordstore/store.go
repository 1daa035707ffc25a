// Package recordstore reads and writes spreadsheet rows through the
// authenticated gateway. Only the response fields used here are decoded.
package recordstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

const (
	DefaultDriveBaseURL  = "https://www.googleapis.com/drive/v3"
	DefaultSheetsBaseURL = "https://sheets.googleapis.com/v4"

	spreadsheetQuery = "mimeType='application/vnd.google-apps.spreadsheet' and trashed=false"
	valueInputOption = "USER_ENTERED"
)

// Requester performs an authenticated JSON call.
type Requester interface {
	Do(ctx context.Context, method, url string, body any, out any) error
}

type Store struct {
	api       Requester
	driveURL  string
	sheetsURL string
}

type Option func(*Store)

func WithDriveBaseURL(u string) Option {
	return func(s *Store) { s.driveURL = strings.TrimRight(u, "/") }
}

func WithSheetsBaseURL(u string) Option {
	return func(s *Store) { s.sheetsURL = strings.TrimRight(u, "/") }
}

func New(api Requester, opts ...Option) *Store {
	s := &Store{api: api, driveURL: DefaultDriveBaseURL, sheetsURL: DefaultSheetsBaseURL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValueRange is a block of cells.
type ValueRange struct {
	Range  string  `json:"range,omitempty"`
	Values [][]any `json:"values"`
}

// ListSpreadsheets returns the spreadsheets visible to the current token.
func (s *Store) ListSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error) {
	q := url.Values{}
	q.Set("q", spreadsheetQuery)
	q.Set("fields", "files(id,name)")

	var resp struct {
		Files []models.Spreadsheet `json:"files"`
	}
	if err := s.api.Do(ctx, http.MethodGet, s.driveURL+"/files?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// CreateSpreadsheet creates an empty spreadsheet named title.
func (s *Store) CreateSpreadsheet(ctx context.Context, title string) (models.Spreadsheet, error) {
	req := map[string]any{"properties": map[string]string{"title": title}}

	var resp struct {
		SpreadsheetID string `json:"spreadsheetId"`
		Properties    struct {
			Title string `json:"title"`
		} `json:"properties"`
	}
	if err := s.api.Do(ctx, http.MethodPost, s.sheetsURL+"/spreadsheets", req, &resp); err != nil {
		return models.Spreadsheet{}, err
	}
	if resp.SpreadsheetID == "" {
		return models.Spreadsheet{}, fmt.Errorf("create spreadsheet: response has no spreadsheetId")
	}
	return models.Spreadsheet{ID: resp.SpreadsheetID, Name: resp.Properties.Title}, nil
}

// GetValues reads the cells in rng (A1 notation).
func (s *Store) GetValues(ctx context.Context, id, rng string) ([][]any, error) {
	var resp ValueRange
	if err := s.api.Do(ctx, http.MethodGet, s.valuesURL(id, rng, ""), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// AppendValues adds rows after the last row of the table in rng.
func (s *Store) AppendValues(ctx context.Context, id, rng string, rows [][]any) error {
	u := s.valuesURL(id, rng, ":append") + "?valueInputOption=" + valueInputOption
	return s.api.Do(ctx, http.MethodPost, u, ValueRange{Values: rows}, nil)
}

// UpdateValues overwrites the cells in rng.
func (s *Store) UpdateValues(ctx context.Context, id, rng string, rows [][]any) error {
	u := s.valuesURL(id, rng, "") + "?valueInputOption=" + valueInputOption
	return s.api.Do(ctx, http.MethodPut, u, ValueRange{Range: rng, Values: rows}, nil)
}

func (s *Store) valuesURL(id, rng, suffix string) string {
	return fmt.Sprintf("%s/spreadsheets/%s/values/%s%s", s.sheetsURL, url.PathEscape(id), url.PathEscape(rng), suffix)
}
