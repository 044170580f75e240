package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"readmate/pkg/domain"
)

// Client looks up bibliographic metadata from an Open Library compatible
// books API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a catalog error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a catalog client. baseURL points at the API root,
// e.g. "https://openlibrary.org".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type bookData struct {
	Title         string `json:"title"`
	NumberOfPages int    `json:"number_of_pages"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Cover struct {
		Large  string `json:"large"`
		Medium string `json:"medium"`
	} `json:"cover"`
	Excerpts []struct {
		Text string `json:"text"`
	} `json:"excerpts"`
	TableOfContents []struct {
		Title string `json:"title"`
	} `json:"table_of_contents"`
}

// LookupISBN fetches metadata for an ISBN. The second return is false when
// the catalog has no record for it.
func (c *Client) LookupISBN(ctx context.Context, isbn string) (domain.CatalogEntry, bool, error) {
	isbn = strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
	if isbn == "" {
		return domain.CatalogEntry{}, false, errors.New("isbn required")
	}
	bibkey := "ISBN:" + isbn
	endpoint := fmt.Sprintf("%s/api/books?bibkeys=%s&format=json&jscmd=data", c.baseURL, url.QueryEscape(bibkey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CatalogEntry{}, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CatalogEntry{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.CatalogEntry{}, false, &APIError{Status: resp.StatusCode, Message: msg}
	}

	var payload map[string]bookData
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CatalogEntry{}, false, fmt.Errorf("decode catalog response: %w", err)
	}
	data, ok := payload[bibkey]
	if !ok {
		return domain.CatalogEntry{}, false, nil
	}

	entry := domain.CatalogEntry{
		Title:         strings.TrimSpace(data.Title),
		ISBN:          isbn,
		NumberOfPages: data.NumberOfPages,
	}
	if len(data.Authors) > 0 {
		names := make([]string, 0, len(data.Authors))
		for _, a := range data.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				names = append(names, name)
			}
		}
		entry.Author = strings.Join(names, ", ")
	}
	if data.Cover.Large != "" {
		entry.CoverImageURL = data.Cover.Large
	} else {
		entry.CoverImageURL = data.Cover.Medium
	}
	if len(data.Excerpts) > 0 {
		entry.Description = strings.TrimSpace(data.Excerpts[0].Text)
	}
	for _, chapter := range data.TableOfContents {
		if title := strings.TrimSpace(chapter.Title); title != "" {
			entry.Chapters = append(entry.Chapters, title)
		}
	}
	return entry, true, nil
}
