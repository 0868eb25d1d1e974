package source

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFigureImageURLs returns the first <img> source of every <figure> in
// an arXiv HTML rendering. Relative sources are resolved against baseURL.
func ParseFigureImageURLs(r io.Reader, baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	z := html.NewTokenizer(r)

	var urls []string
	depth := 0
	found := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return urls
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Figure:
				if tok.Type == html.StartTagToken {
					if depth == 0 {
						found = false
					}
					depth++
				}
			case atom.Img:
				if depth == 0 || found {
					continue
				}
				if src := attr(tok, "src"); src != "" {
					urls = append(urls, resolve(base, src))
					found = true
				}
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Figure && depth > 0 {
				depth--
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolve(base, src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return base + "/" + strings.TrimLeft(src, "/")
}
