package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/sanitize"
)

const (
	abstractPreview = 300
	absURL          = "https://arxiv.org/abs/"
)

// PrependMetadata puts a title, author and abstract header in front of a
// converted body. Empty sections are omitted.
func PrependMetadata(meta *model.Metadata, body string) string {
	if meta == nil {
		return body
	}
	title := clean(meta.Title)
	abstract := clean(meta.Summary)
	authors := cleanAuthors(meta.Authors)

	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	if len(authors) > 0 {
		b.WriteString("## Authors\n" + strings.Join(authors, ", ") + "\n\n")
	}
	if abstract != "" {
		b.WriteString("## Abstract\n" + abstract + "\n\n")
	}
	b.WriteString(body)
	return b.String()
}

// RenderMetadata formats metadata on its own, with a link back to arXiv
func RenderMetadata(id string, meta *model.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", clean(meta.Title))
	if authors := cleanAuthors(meta.Authors); len(authors) > 0 {
		fmt.Fprintf(&b, "**Authors:** %s\n\n", strings.Join(authors, ", "))
	}
	if abstract := clean(meta.Summary); abstract != "" {
		fmt.Fprintf(&b, "**Abstract:**\n%s\n", abstract)
	}
	fmt.Fprintf(&b, "\n**Link:** %s%s\n", absURL, id)
	return b.String()
}

// RenderSearch formats search results as a numbered markdown list
func RenderSearch(query string, results []model.SearchResult) string {
	if len(results) == 0 {
		return "No papers found matching your query."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s) for \"%s\":\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&b, "## %d. %s\n", i+1, strings.TrimSpace(r.Title))
		fmt.Fprintf(&b, "**arXiv ID:** %s\n", r.ID)
		if len(r.Authors) > 0 {
			fmt.Fprintf(&b, "**Authors:** %s\n", strings.Join(r.Authors, ", "))
		}
		if r.Published != "" {
			fmt.Fprintf(&b, "**Published:** %s\n", r.Published)
		}
		if summary := strings.TrimSpace(r.Summary); summary != "" {
			fmt.Fprintf(&b, "**Abstract:** %s\n", truncate(summary, abstractPreview))
		}
		fmt.Fprintf(&b, "**Link:** %s%s\n\n", absURL, r.ID)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func clean(s string) string {
	return strings.TrimSpace(sanitize.StripTags(s))
}

func cleanAuthors(authors []string) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		if a = clean(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
