package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/russross/blackfriday/v2"
	"go.uber.org/zap"
)

const defaultIndex = `# markxiv

Markdown renderings of arXiv papers.

- ` + "`GET /abs/<id>`" + ` converts a paper; ` + "`?refresh=1`" + ` bypasses the cache
- ` + "`GET /pdf/<id>`" + ` is the same document
- ` + "`HEAD /abs/<id>`" + ` checks that a paper exists without converting it
- ` + "`GET /meta/<id>`" + ` returns title, authors and abstract
- ` + "`GET /search?q=<query>&max=<n>`" + ` searches arXiv
- ` + "`GET /figures/<id>`" + ` lists figure image URLs
`

const htmlExtensions = blackfriday.CommonExtensions | blackfriday.Footnotes | blackfriday.AutoHeadingIDs

// index serves the landing page as HTML for browsers and as markdown for
// everything else.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	md, err := s.readIndex()
	if err != nil {
		s.logger.Warn("read index markdown", zap.String("path", s.cfg.IndexPath), zap.Error(err))
		http.Error(w, "failed to read index markdown: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if !wantsHTML(r.Header.Get("Accept")) {
		writeMarkdown(w, string(md))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(RenderHTML(md))
}

func (s *Server) readIndex() ([]byte, error) {
	if s.cfg.IndexPath == "" {
		return []byte(defaultIndex), nil
	}
	md, err := os.ReadFile(s.cfg.IndexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte(defaultIndex), nil
	}
	return md, err
}

// wantsHTML treats a missing Accept header and */* as a browser
func wantsHTML(accept string) bool {
	if accept == "" {
		return true
	}
	accept = strings.ToLower(accept)
	return strings.Contains(accept, "text/html") || strings.Contains(accept, "*/*")
}

// RenderHTML renders markdown into a minimal standalone page
func RenderHTML(md []byte) []byte {
	body := blackfriday.Run(md, blackfriday.WithExtensions(htmlExtensions))

	var b strings.Builder
	b.WriteString(`<!doctype html><meta charset="utf-8"><title>markxiv</title><body>`)
	b.Write(body)
	b.WriteString("</body>")
	return []byte(b.String())
}
