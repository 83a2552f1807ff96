package scanning

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultMaxTokens bounds the size of the model answer
const DefaultMaxTokens = 600

const systemInstruction = "You are an assistant that extracts data from purchase receipts into valid JSON."

// receiptScanPrompt is the prompt shared by all backends
const receiptScanPrompt = `You are extracting data from a Chilean purchase receipt (boleta or factura). Return ONLY a JSON object with EXACTLY these keys:
{
  "supplier": string|null,
  "rut": string|null,
  "date": "YYYY-MM-DD"|null,
  "total": number|null,
  "items": [
    { "name": string|null, "qty": number|null, "unit_price": number|null, "line_total": number|null }
  ],
  "raw_text": string|null
}

Rules:
- Never invent data: if a value is not clearly present on the receipt, use null (or "" where appropriate).
- "rut" is the supplier tax ID exactly as printed (e.g. 76.123.456-7).
- Amounts are bare numbers: no currency symbols and no thousands separators.
- "raw_text" is the text of the receipt as you read it.`

// VisionClient sends a prepared image to a vision model and returns its raw answer
type VisionClient struct {
	backend   Backend
	maxTokens int
	logger    *slog.Logger
}

// NewVisionClient creates a new VisionClient
func NewVisionClient(backend Backend, maxTokens int, logger *slog.Logger) *VisionClient {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionClient{
		backend:   backend,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Invoke asks model to extract the receipt in imagePath and returns the text of the single choice
func (v *VisionClient) Invoke(ctx context.Context, model string, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &ConversionError{Path: imagePath, Reason: "reading prepared image", Err: err}
	}

	req := ChatRequest{
		Model:       model,
		System:      systemInstruction,
		Prompt:      receiptScanPrompt,
		Image:       Image{MIMEType: imageMIMEType(data), Data: data},
		Temperature: 0,
		MaxTokens:   v.maxTokens,
		JSONMode:    true,
	}

	start := time.Now()
	choices, err := v.backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	v.logger.Info("vision model answered",
		"model", model,
		"image_bytes", len(data),
		"choices", len(choices),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if len(choices) == 0 {
		v.logger.Warn("vision model returned no choices", "model", model)
		return "", nil
	}
	return choices[0], nil
}

// imageMIMEType sniffs the image type; anything unrecognized is sent as PNG
func imageMIMEType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/gif", "image/webp":
		return ct
	default:
		return "image/png"
	}
}
