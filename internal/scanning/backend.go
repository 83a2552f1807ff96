package scanning

import (
	"context"
	"encoding/base64"
)

// Image is an inline image attached to a chat request
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data URL, e.g. data:image/png;base64,...
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// ChatRequest is a single-turn vision chat request
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	Image       Image
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// Backend is a model-serving API able to list models and run a chat completion.
// Complete returns the text content of each returned choice.
type Backend interface {
	ModelLister
	Complete(ctx context.Context, req ChatRequest) ([]string, error)
	Close() error
}
