package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries the Serper.dev Google Search API.
type Serper struct {
	apiKey string
	client *http.Client
}

func NewSerper(apiKey string) (*Serper, error) {
	if apiKey == "" {
		return nil, errors.New("serper api key is empty")
	}
	return &Serper{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if numResults <= 0 {
		numResults = 5
	}

	body, err := json.Marshal(serperRequest{Q: query, Num: numResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("serper returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(parsed.Organic))
	for _, item := range parsed.Organic {
		if item.Title == "" || item.Link == "" {
			continue
		}
		out = append(out, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Type:    classifyResource(item.Title, item.Link, item.Snippet),
		})
	}
	return out, nil
}

// classifyResource tags a result by the kind of learning material it points
// at, mirroring how the recommendation surface groups links.
func classifyResource(title, url, snippet string) string {
	lower := strings.ToLower(title + " " + url + " " + snippet)
	switch {
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "video"):
		return "video"
	case strings.Contains(lower, "course") || strings.Contains(lower, "udemy") || strings.Contains(lower, "coursera"):
		return "course"
	case strings.Contains(lower, "book"):
		return "book"
	case strings.Contains(lower, "doc") || strings.Contains(lower, "tutorial") || strings.Contains(lower, "guide"):
		return "tutorial"
	default:
		return "article"
	}
}
