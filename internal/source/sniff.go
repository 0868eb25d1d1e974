package source

import (
	"bytes"
)

const sniffLen = 1024

var pdfMagic = []byte("%PDF-")

// LooksLikePDF reports whether data starts with the PDF signature
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// LooksLikeHTML reports whether data is an HTML document, which the
// e-print endpoint sometimes returns with a 200 on upstream trouble.
func LooksLikeHTML(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	head = bytes.TrimLeft(head, " \t\r\n")
	if len(head) == 0 || head[0] != '<' {
		return false
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}
