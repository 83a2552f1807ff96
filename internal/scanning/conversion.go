package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/heic"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension caps the width and height of rendered pages
const DefaultMaxDimension = 2000

// Preparer turns an uploaded document into a single raster image for a vision model
type Preparer struct {
	rasterizer   Rasterizer
	scratchDir   string
	maxDimension int
	decodeHEIC   func(io.Reader) (image.Image, error)
	logger       *slog.Logger
}

// NewPreparer creates a new Preparer. scratchDir defaults to the OS temp dir.
func NewPreparer(rasterizer Rasterizer, scratchDir string, maxDimension int, logger *slog.Logger) *Preparer {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{
		rasterizer:   rasterizer,
		scratchDir:   scratchDir,
		maxDimension: maxDimension,
		decodeHEIC:   heic.Decode,
		logger:       logger,
	}
}

// Prepare returns the path of a raster image representing the page to analyze.
// PDFs are rendered (first page only) and downsampled; HEIC/HEIF photos are
// converted to PNG; other images are returned unchanged.
func (p *Preparer) Prepare(ctx context.Context, path string) (string, error) {
	if isPDF(path) {
		return p.preparePDF(ctx, path)
	}

	heif, err := isHEICFile(path)
	if err != nil {
		return "", &ConversionError{Path: path, Reason: "opening document", Err: err}
	}
	if heif {
		return p.convertHEIC(path)
	}
	return path, nil
}

func (p *Preparer) preparePDF(ctx context.Context, path string) (string, error) {
	prefix := p.scratchPath("page")

	out, err := p.rasterizer.RenderFirstPage(ctx, path, prefix)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return "", &ConversionError{Path: path, Reason: "rendering produced no output", Err: statErr}
	}

	if err := p.downsample(out); err != nil {
		return "", &ConversionError{Path: path, Reason: "resizing page image", Err: err}
	}

	p.logger.Debug("pdf rasterized", "pdf", path, "image", out)
	return out, nil
}

// convertHEIC decodes a HEIC/HEIF photo (common on iPhones) and writes it as PNG
func (p *Preparer) convertHEIC(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ConversionError{Path: path, Reason: "opening document", Err: err}
	}
	defer f.Close()

	img, err := p.decodeHEIC(f)
	if err != nil {
		return "", &ConversionError{Path: path, Reason: "decoding HEIC/HEIF image", Err: err}
	}

	out := p.scratchPath("photo") + ".png"
	if err := writePNG(out, img); err != nil {
		return "", &ConversionError{Path: path, Reason: "encoding PNG", Err: err}
	}
	if err := p.downsample(out); err != nil {
		return "", &ConversionError{Path: path, Reason: "resizing photo", Err: err}
	}
	return out, nil
}

// downsample shrinks the image in place so that neither side exceeds maxDimension.
// Images already within bounds are left untouched.
func (p *Preparer) downsample(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image config: %w", err)
	}
	w, h := fitDimensions(cfg.Width, cfg.Height, p.maxDimension)
	if w == cfg.Width && h == cfg.Height {
		return nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	p.logger.Debug("image downsampled",
		"from_width", cfg.Width, "from_height", cfg.Height,
		"to_width", w, "to_height", h,
	)
	return writePNG(path, dst)
}

// scratchPath returns a collision-free path prefix in the scratch directory
func (p *Preparer) scratchPath(kind string) string {
	return filepath.Join(p.scratchDir, kind+"-"+uuid.NewString())
}

// fitDimensions scales w x h down to fit within limit x limit, preserving aspect ratio.
// It never scales up.
func fitDimensions(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	scale := math.Min(float64(limit)/float64(w), float64(limit)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return min(max(nw, 1), limit), min(max(nh, 1), limit)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return f.Close()
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// isHEICFile checks the extension first, then the ftyp magic bytes
func isHEICFile(path string) (bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return isHEICFormat(header[:n]), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with brand heic, heif, mif1 or msf1.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
