package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Hit is one search result in provider-neutral form.
type Hit struct {
	ID       string
	URL      string
	Title    string
	Body     string
	Author   string
	PostedAt *time.Time
	Extra    map[string]any
}

// Decoder turns a provider response body into hits.
type Decoder func(r io.Reader) ([]Hit, error)

type hnResponse struct {
	Hits []struct {
		ObjectID    string `json:"objectID"`
		URL         string `json:"url"`
		Title       string `json:"title"`
		StoryTitle  string `json:"story_title"`
		StoryText   string `json:"story_text"`
		CommentText string `json:"comment_text"`
		Author      string `json:"author"`
		CreatedAtI  int64  `json:"created_at_i"`
		Points      int    `json:"points"`
	} `json:"hits"`
}

// DecodeHackerNews reads the Algolia Hacker News search format. Hits without
// a story URL point at the discussion page.
func DecodeHackerNews(r io.Reader) ([]Hit, error) {
	var resp hnResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode hackernews response: %w", err)
	}
	hits := make([]Hit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hit := Hit{
			ID:     h.ObjectID,
			URL:    h.URL,
			Title:  firstNonEmpty(h.Title, h.StoryTitle),
			Body:   firstNonEmpty(h.StoryText, h.CommentText),
			Author: h.Author,
			Extra:  map[string]any{"points": h.Points},
		}
		if h.URL == "" && h.ObjectID != "" {
			hit.URL = "https://news.ycombinator.com/item?id=" + h.ObjectID
		}
		if h.CreatedAtI > 0 {
			ts := time.Unix(h.CreatedAtI, 0).UTC()
			hit.PostedAt = &ts
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Name       string  `json:"name"`
				Permalink  string  `json:"permalink"`
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				Author     string  `json:"author"`
				Subreddit  string  `json:"subreddit"`
				CreatedUTC float64 `json:"created_utc"`
				Score      int     `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// DecodeReddit reads a Reddit listing. URLs are the thread permalinks.
func DecodeReddit(r io.Reader) ([]Hit, error) {
	var listing redditListing
	if err := json.NewDecoder(r).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}
	hits := make([]Hit, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		hit := Hit{
			ID:     d.Name,
			Title:  d.Title,
			Body:   d.Selftext,
			Author: d.Author,
			Extra:  map[string]any{"subreddit": d.Subreddit, "score": d.Score},
		}
		if d.Permalink != "" {
			hit.URL = "https://www.reddit.com" + d.Permalink
		}
		if d.CreatedUTC > 0 {
			ts := time.Unix(int64(d.CreatedUTC), 0).UTC()
			hit.PostedAt = &ts
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
