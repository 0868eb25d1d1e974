package source

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/ppiankov/markxiv/internal/model"
)

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func parseFeed(data []byte) (*atomFeed, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}
	return &feed, nil
}

// papers drops the error entries the API emits for malformed ids
func (f *atomFeed) papers() []atomEntry {
	out := make([]atomEntry, 0, len(f.Entries))
	for _, e := range f.Entries {
		if strings.Contains(e.ID, "/api/errors") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ParseMetadata returns the metadata of the first paper in an atom feed,
// or ErrNotFound when the feed carries none.
func ParseMetadata(data []byte) (*model.Metadata, error) {
	feed, err := parseFeed(data)
	if err != nil {
		return nil, err
	}
	entries := feed.papers()
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	e := entries[0]
	title := collapse(e.Title)
	if title == "" {
		return nil, ErrNotFound
	}
	return &model.Metadata{
		Title:   title,
		Summary: collapse(e.Summary),
		Authors: authorNames(e.Authors),
	}, nil
}

// ParseSearchResults converts atom entries into search results. Entries
// without a title are skipped.
func ParseSearchResults(data []byte) ([]model.SearchResult, error) {
	feed, err := parseFeed(data)
	if err != nil {
		return nil, err
	}

	var results []model.SearchResult
	for _, e := range feed.papers() {
		title := collapse(e.Title)
		if title == "" {
			continue
		}
		results = append(results, model.SearchResult{
			ID:        idFromURL(e.ID),
			Title:     title,
			Summary:   collapse(e.Summary),
			Authors:   authorNames(e.Authors),
			Published: strings.TrimSpace(e.Published),
		})
	}
	return results, nil
}

// idFromURL turns http://arxiv.org/abs/1706.03762v5 into 1706.03762v5.
// Old-style ids keep their archive prefix: .../abs/hep-th/9901001v1.
func idFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "/abs/"); i >= 0 {
		return raw[i+len("/abs/"):]
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

func authorNames(authors []atomAuthor) []string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if name := collapse(a.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// collapse trims and folds internal whitespace runs (the API wraps long
// titles and abstracts across lines) into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
