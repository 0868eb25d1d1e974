package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Toolchain is the set of external converters the pipeline drives.
// Implementations must honour ctx by abandoning the underlying work.
type Toolchain interface {
	// Extract unpacks an e-print archive into dir
	Extract(ctx context.Context, archive []byte, dir string) error
	// LatexToMarkdown converts mainFile (relative to dir) to markdown.
	// With macros false the converter's macro expansion is disabled.
	LatexToMarkdown(ctx context.Context, dir, mainFile string, macros bool) ([]byte, error)
	// PdfToText extracts plain text from a PDF, using dir as scratch space
	PdfToText(ctx context.Context, pdf []byte, dir string) ([]byte, error)
}

// ExecToolchain runs tar, pandoc and pdftotext as subprocesses
type ExecToolchain struct {
	TarPath       string
	PandocPath    string
	PdftotextPath string
}

const (
	stderrTail = 512
	waitDelay  = 2 * time.Second
	singleTex  = "main.tex"
)

// NewExecToolchain creates a toolchain with the given binary paths; empty
// paths fall back to the binary name looked up on PATH.
func NewExecToolchain(tarPath, pandocPath, pdftotextPath string) *ExecToolchain {
	return &ExecToolchain{
		TarPath:       orDefault(tarPath, "tar"),
		PandocPath:    orDefault(pandocPath, "pandoc"),
		PdftotextPath: orDefault(pdftotextPath, "pdftotext"),
	}
}

// Extract tries a plain tar, then a gzip tar. Some e-prints are a single
// gzipped .tex file rather than an archive; those are written to main.tex.
func (t *ExecToolchain) Extract(ctx context.Context, archive []byte, dir string) error {
	if len(archive) == 0 {
		return errors.New("extract archive: empty payload")
	}

	_, plainErr := run(ctx, dir, archive, t.TarPath, "-xf", "-", "-C", dir)
	if plainErr == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	_, gzErr := run(ctx, dir, archive, t.TarPath, "-xzf", "-", "-C", dir)
	if gzErr == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	if isGzip(archive) {
		if err := gunzipTo(archive, filepath.Join(dir, singleTex)); err != nil {
			return fmt.Errorf("extract single file: %w", err)
		}
		return nil
	}
	return fmt.Errorf("extract archive: %w", errors.Join(plainErr, gzErr))
}

// LatexToMarkdown runs pandoc from dir so relative \input paths resolve
func (t *ExecToolchain) LatexToMarkdown(ctx context.Context, dir, mainFile string, macros bool) ([]byte, error) {
	from := "latex"
	if !macros {
		from = "latex-latex_macros"
	}
	return run(ctx, dir, nil, t.PandocPath, mainFile, "-f", from, "-t", "markdown", "--wrap=none")
}

// PdfToText writes the PDF into dir and runs pdftotext over it
func (t *ExecToolchain) PdfToText(ctx context.Context, pdf []byte, dir string) ([]byte, error) {
	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return run(ctx, dir, nil, t.PdftotextPath, "-enc", "UTF-8", "input.pdf", "-")
}

func run(ctx context.Context, dir string, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), ctxErr)
		}
		if msg := tail(stderr.String(), stderrTail); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return stdout.Bytes(), nil
}

func gunzipTo(data []byte, path string) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer zr.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, zr); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
