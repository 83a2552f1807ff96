package scanning

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the resolution PDF pages are rendered at
const DefaultDPI = 150

// Rasterizer renders the first page of a PDF to a PNG file named <outPrefix>-1.png
type Rasterizer interface {
	RenderFirstPage(ctx context.Context, pdfPath string, outPrefix string) (string, error)
}

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		logger.Debug("exec ok",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_bytes", errb.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// Pdftoppm renders pages with the poppler pdftoppm command
type Pdftoppm struct {
	runner Runner
	binary string
	dpi    int
}

// NewPdftoppm creates a pdftoppm rasterizer; binary defaults to "pdftoppm"
func NewPdftoppm(runner Runner, binary string, dpi int) *Pdftoppm {
	if runner == nil {
		runner = ExecRunner{}
	}
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Pdftoppm{runner: runner, binary: binary, dpi: dpi}
}

// RenderFirstPage runs pdftoppm on page 1 only. The output file existing is the success signal.
func (p *Pdftoppm) RenderFirstPage(ctx context.Context, pdfPath string, outPrefix string) (string, error) {
	_, stderr, runErr := p.runner.Run(ctx, p.binary,
		"-png", "-f", "1", "-l", "1", "-r", strconv.Itoa(p.dpi),
		pdfPath, outPrefix,
	)

	// pdftoppm zero-pads the page number on long documents (prefix-01.png)
	matches, _ := filepath.Glob(outPrefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		reason := "pdftoppm produced no image"
		if s := strings.TrimSpace(string(stderr)); s != "" {
			reason += ": " + truncate(s, 512)
		}
		return "", &ConversionError{Path: pdfPath, Reason: reason, Err: runErr}
	}
	return matches[0], nil
}

// Fitz renders pages in-process with MuPDF
type Fitz struct {
	dpi float64
}

// NewFitz creates a go-fitz rasterizer
func NewFitz(dpi int) *Fitz {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Fitz{dpi: float64(dpi)}
}

// RenderFirstPage renders page 0 and writes it as PNG
func (f *Fitz) RenderFirstPage(ctx context.Context, pdfPath string, outPrefix string) (string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", &ConversionError{Path: pdfPath, Reason: "opening PDF", Err: err}
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return "", &ConversionError{Path: pdfPath, Reason: "PDF has no pages"}
	}

	// Render the first page (most receipts are single page)
	img, err := doc.ImageDPI(0, f.dpi)
	if err != nil {
		return "", &ConversionError{Path: pdfPath, Reason: "rendering PDF page", Err: err}
	}

	out := outPrefix + "-1.png"
	file, err := os.Create(out)
	if err != nil {
		return "", &ConversionError{Path: pdfPath, Reason: "creating page image", Err: err}
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", &ConversionError{Path: pdfPath, Reason: "encoding PNG", Err: err}
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
