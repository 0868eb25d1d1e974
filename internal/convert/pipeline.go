package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/metrics"
	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/sanitize"
	"github.com/ppiankov/markxiv/internal/worker"
)

// Step names a stage of the conversion state machine
type Step string

const (
	StepLatexStandard Step = "latex_standard"
	StepLatexNoMacros Step = "latex_no_macros"
	StepPdfFallback   Step = "pdf_fallback"
)

// metric label for archive extraction, which runs inside the LaTeX path
const labelExtract = "extract"

var errEmptyOutput = errors.New("converter produced no output")

// Input is the raw material for one conversion
type Input struct {
	ID string
	// Archive is the e-print payload; ignored when PdfOnly is set
	Archive []byte
	// PdfOnly skips the LaTeX path entirely
	PdfOnly bool
	// FetchPDF is called lazily, only when the PDF fallback runs
	FetchPDF func(ctx context.Context) ([]byte, error)
}

// Result is a successful conversion and the step that produced it
type Result struct {
	Markdown string
	Step     Step
}

// Pipeline turns e-print archives or PDFs into markdown, trying the LaTeX
// converter, then the LaTeX converter without macro expansion, then PDF
// text extraction. Transitions only move forward.
type Pipeline struct {
	tools        Toolchain
	permits      *worker.Permits
	latexTimeout time.Duration
	pdfTimeout   time.Duration
	workDir      string
	logger       *zap.Logger
}

// NewPipeline creates a pipeline. A nil tools makes every conversion fail
// with ErrNotImplemented; a nil permits gets a pool sized from cfg.
func NewPipeline(tools Toolchain, permits *worker.Permits, cfg model.ConvertConfig, logger *zap.Logger) *Pipeline {
	if permits == nil {
		permits = worker.NewPermits(cfg.MaxConcurrency)
	}
	latexTimeout := cfg.LatexTimeout
	if latexTimeout <= 0 {
		latexTimeout = 8 * time.Second
	}
	pdfTimeout := cfg.PDFTimeout
	if pdfTimeout <= 0 {
		pdfTimeout = 3 * time.Minute
	}

	return &Pipeline{
		tools:        tools,
		permits:      permits,
		latexTimeout: latexTimeout,
		pdfTimeout:   pdfTimeout,
		workDir:      cfg.WorkDir,
		logger:       logging.OrNop(logger),
	}
}

// Convert runs the state machine for one input. Errors returned by
// in.FetchPDF are passed through wrapped, so callers can still match source
// errors; exhausting every step yields an *Error.
func (p *Pipeline) Convert(ctx context.Context, in Input) (*Result, error) {
	if p.tools == nil {
		return nil, ErrNotImplemented
	}
	logger := p.logger.With(zap.String("id", in.ID))

	var latexErr error
	if !in.PdfOnly && len(in.Archive) > 0 {
		res, err := p.convertLatex(ctx, in.Archive, logger)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		latexErr = err
	}

	if in.FetchPDF == nil {
		if latexErr != nil {
			return nil, latexErr
		}
		return nil, &Error{Step: StepPdfFallback, Reason: "no pdf source available"}
	}
	// 3. Fall back to the PDF
	return p.convertPDF(ctx, in.FetchPDF, logger)
}

func (p *Pipeline) convertLatex(ctx context.Context, archive []byte, logger *zap.Logger) (*Result, error) {
	dir, err := newWorkDir(p.workDir)
	if err != nil {
		return nil, &Error{Step: StepLatexStandard, Reason: "prepare work dir", Err: err}
	}
	defer p.removeWorkDir(dir)

	// 1. Unpack the bundle and pick the main file
	err = p.invoke(ctx, labelExtract, p.latexTimeout, func(ctx context.Context) error {
		return p.tools.Extract(ctx, archive, dir)
	})
	if err != nil {
		logger.Warn("archive extraction failed", zap.String("step", string(StepLatexStandard)), zap.Error(err))
		return nil, &Error{Step: StepLatexStandard, Reason: "extract archive", Err: err}
	}

	mainFile, err := FindMainTex(dir)
	if err != nil {
		logger.Warn("main tex selection failed", zap.String("step", string(StepLatexStandard)), zap.Error(err))
		return nil, &Error{Step: StepLatexStandard, Reason: "select main tex", Err: err}
	}

	// 2. Standard conversion, then once more without macro expansion
	var lastErr error
	for _, step := range []Step{StepLatexStandard, StepLatexNoMacros} {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		markdown, err := p.latexStep(ctx, step, dir, mainFile)
		if err == nil {
			logger.Debug("conversion succeeded", zap.String("step", string(step)), zap.String("main", mainFile))
			return &Result{Markdown: markdown, Step: step}, nil
		}
		logger.Warn("conversion step failed", zap.String("step", string(step)), zap.Error(err))
		lastErr = err
	}
	return nil, &Error{Step: StepLatexNoMacros, Reason: "latex conversion failed", Err: lastErr}
}

func (p *Pipeline) latexStep(ctx context.Context, step Step, dir, mainFile string) (string, error) {
	var out []byte
	err := p.invoke(ctx, string(step), p.latexTimeout, func(ctx context.Context) error {
		var err error
		out, err = p.tools.LatexToMarkdown(ctx, dir, mainFile, step == StepLatexStandard)
		return err
	})
	if err != nil {
		return "", err
	}

	markdown := sanitize.Sanitize(string(out))
	if strings.TrimSpace(markdown) == "" {
		return "", errEmptyOutput
	}
	return markdown, nil
}

// convertPDF fetches the PDF lazily and returns its text as extracted,
// without LaTeX sanitizing.
func (p *Pipeline) convertPDF(ctx context.Context, fetch func(context.Context) ([]byte, error), logger *zap.Logger) (*Result, error) {
	pdf, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch pdf: %w", err)
	}

	dir, err := newWorkDir(p.workDir)
	if err != nil {
		return nil, &Error{Step: StepPdfFallback, Reason: "prepare work dir", Err: err}
	}
	defer p.removeWorkDir(dir)

	var out []byte
	err = p.invoke(ctx, string(StepPdfFallback), p.pdfTimeout, func(ctx context.Context) error {
		var err error
		out, err = p.tools.PdfToText(ctx, pdf, dir)
		return err
	})
	if err == nil && strings.TrimSpace(string(out)) == "" {
		err = errEmptyOutput
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("conversion step failed", zap.String("step", string(StepPdfFallback)), zap.Error(err))
		return nil, &Error{Step: StepPdfFallback, Reason: "pdf text extraction failed", Err: err}
	}

	logger.Debug("conversion succeeded", zap.String("step", string(StepPdfFallback)))
	return &Result{Markdown: string(out), Step: StepPdfFallback}, nil
}

// invoke runs one external process call while holding a permit and under
// its own timeout. Waiting for a permit is not counted against the timeout.
func (p *Pipeline) invoke(ctx context.Context, label string, timeout time.Duration, fn func(ctx context.Context) error) error {
	release, err := p.permits.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err = fn(stepCtx)
	metrics.ConversionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ConversionSteps.WithLabelValues(label, result).Inc()
	return err
}

func (p *Pipeline) removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Debug("work dir cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}
