package scanning

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// writeTestPNG writes a w x h PNG and returns its path
func writeTestPNG(dir, name string, w, h int) string {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.Black)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(png.Encode(f, img)).To(Succeed())
	return path
}

var _ = Describe("VisionClient", func() {
	var (
		backend   *mockBackend
		client    *VisionClient
		imagePath string
		text      string
		err       error
	)

	BeforeEach(func() {
		backend = &mockBackend{choices: []string{`{"supplier":"ACME"}`}}
		client = NewVisionClient(backend, 0, nil)
		imagePath = writeTestPNG(GinkgoT().TempDir(), "page.png", 20, 10)
	})

	JustBeforeEach(func() {
		text, err = client.Invoke(context.Background(), "gpt-4o", imagePath)
	})

	When("the backend answers", func() {
		It("should return the first choice", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"supplier":"ACME"}`))
		})

		It("should request deterministic JSON output", func() {
			Expect(backend.requests).To(HaveLen(1))
			req := backend.requests[0]
			Expect(req.Model).To(Equal("gpt-4o"))
			Expect(req.Temperature).To(BeZero())
			Expect(req.MaxTokens).To(Equal(DefaultMaxTokens))
			Expect(req.JSONMode).To(BeTrue())
		})

		It("should send the output contract and the no-invention rule", func() {
			req := backend.requests[0]
			Expect(req.System).To(ContainSubstring("valid JSON"))
			for _, key := range []string{`"supplier"`, `"rut"`, `"date"`, `"total"`, `"items"`, `"raw_text"`, `"line_total"`} {
				Expect(req.Prompt).To(ContainSubstring(key))
			}
			Expect(req.Prompt).To(ContainSubstring("Never invent data"))
			Expect(req.Prompt).To(ContainSubstring("no thousands separators"))
		})

		It("should attach the image as a PNG data URL", func() {
			req := backend.requests[0]
			data, readErr := os.ReadFile(imagePath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(req.Image.MIMEType).To(Equal("image/png"))
			Expect(req.Image.DataURL()).To(Equal("data:image/png;base64," + base64.StdEncoding.EncodeToString(data)))
		})
	})

	When("the backend returns no choices", func() {
		BeforeEach(func() {
			backend.choices = nil
		})

		It("should return an empty answer", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
		})
	})

	When("the backend rejects the request", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = &BackendRequestError{Op: "chat completion", Status: 400, Body: `{"error":{"message":"bad image"}}`}
			backend.completeErr = setupErr
		})

		It("returns the error unchanged", func() {
			Expect(err).To(MatchError(setupErr))
			var reqErr *BackendRequestError
			Expect(errors.As(err, &reqErr)).To(BeTrue())
		})
	})

	When("the image cannot be read", func() {
		BeforeEach(func() {
			imagePath = filepath.Join(GinkgoT().TempDir(), "missing.png")
		})

		It("returns a ConversionError without calling the backend", func() {
			var convErr *ConversionError
			Expect(errors.As(err, &convErr)).To(BeTrue())
			Expect(convErr.Path).To(Equal(imagePath))
			Expect(convErr.Reason).To(Equal("reading prepared image"))
			Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
			Expect(backend.requests).To(BeEmpty())
		})
	})
})

var _ = Describe("imageMIMEType", func() {
	It("keeps JPEG data labeled as JPEG", func() {
		Expect(imageMIMEType([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"))).To(Equal("image/jpeg"))
	})

	It("defaults to PNG", func() {
		Expect(imageMIMEType([]byte("something else"))).To(Equal("image/png"))
	})
})
