package purchase

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/purchase-tracker/internal/scanning"
)

var anyPath = regexp.MustCompile(`^/`)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, extractor, storage, GinkgoT().TempDir(), &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	upload := func(field, filename string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())
		return do(http.MethodPost, "/api/purchases/preview", &buf, mw.FormDataContentType())
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleIndex", func() {
		It("should return the HTML interface", func() {
			resp := do(http.MethodGet, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("Purchase Tracker"))
		})

		It("should not serve unknown paths", func() {
			resp := do(http.MethodGet, "/nope", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should reject other methods", func() {
			resp := do(http.MethodPost, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(http.MethodOptions, "/api/purchases", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp := do(http.MethodGet, "/api/purchases", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/purchases", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects a wrong password", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/purchases", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "guess")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("handlePreview", func() {
		When("extraction succeeds", func() {
			It("returns the prefilled purchase without saving it", func() {
				resp := upload("document", "boleta.jpg", []byte("jpeg bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var preview Preview
				decode(resp, &preview)
				Expect(preview.Purchase.Supplier).To(HaveValue(Equal("Supermercado Lider")))
				Expect(preview.Purchase.Document).To(Equal("id-1_boleta.jpg"))
				Expect(preview.Purchase.ContentType).To(Equal("image/jpeg"))
				Expect(db.purchases).To(BeEmpty())
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = &scanning.NoVisionModelAvailableError{Required: scanning.OpenAIVisionModels}
			})

			It("returns 422 with a blank purchase and an alert", func() {
				resp := upload("document", "boleta.jpg", []byte("jpeg bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var preview Preview
				decode(resp, &preview)
				Expect(preview.Failed).To(BeTrue())
				Expect(preview.Alert).To(ContainSubstring("no vision model available"))
				Expect(preview.Purchase).NotTo(BeNil())
				Expect(preview.Purchase.Items).NotTo(BeNil())
			})
		})

		When("no document is sent", func() {
			It("returns 400", func() {
				resp := upload("file", "boleta.jpg", []byte("jpeg bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No file"))
			})
		})

		When("the body is not multipart", func() {
			It("returns 400", func() {
				resp := do(http.MethodPost, "/api/purchases/preview", bytes.NewBufferString("{}"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleCreatePurchase", func() {
		It("creates a purchase", func() {
			resp := do(http.MethodPost, "/api/purchases",
				bytes.NewBufferString(`{"supplier":"Jumbo","date":"2024-03-01","total":1990.499,"items":[{"name":"Pan","qty":1}]}`),
				"application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var created Purchase
			decode(resp, &created)
			Expect(created.ID).To(Equal("id-1"))
			Expect(created.Total).To(HaveValue(Equal(1990.5)))
			Expect(db.purchases).To(HaveKey("id-1"))
		})

		It("returns 422 for a negative total", func() {
			resp := do(http.MethodPost, "/api/purchases", bytes.NewBufferString(`{"total":-5}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			var body map[string]any
			decode(resp, &body)
			Expect(body["error"]).To(ContainSubstring("total"))
			Expect(db.purchases).To(BeEmpty())
		})

		It("returns 400 for malformed JSON", func() {
			resp := do(http.MethodPost, "/api/purchases", bytes.NewBufferString(`{"total":`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("single purchase routes", func() {
		BeforeEach(func() {
			db.purchases["p1"] = &Purchase{ID: "p1", Supplier: strPtr("Lider"), Document: "p1.jpg", ContentType: "image/jpeg"}
			storage.files["p1.jpg"] = []byte("jpeg bytes")
		})

		It("gets a purchase", func() {
			resp := do(http.MethodGet, "/api/purchases/p1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
		})

		It("returns 404 for unknown purchases", func() {
			resp := do(http.MethodGet, "/api/purchases/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(Equal("Purchase not found"))
		})

		It("updates a purchase", func() {
			resp := do(http.MethodPut, "/api/purchases/p1", bytes.NewBufferString(`{"supplier":"Jumbo"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.purchases["p1"].Supplier).To(HaveValue(Equal("Jumbo")))
			Expect(db.purchases["p1"].Document).To(Equal("p1.jpg"))
		})

		It("serves the document", func() {
			resp := do(http.MethodGet, "/api/purchases/p1/document", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("jpeg bytes"))
		})

		It("deletes a purchase", func() {
			resp := do(http.MethodDelete, "/api/purchases/p1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.purchases).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("returns 500 when the database fails", func() {
			db.getErr = errors.New("database error")
			resp := do(http.MethodGet, "/api/purchases/p1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("collection routes", func() {
		BeforeEach(func() {
			db.purchases["a"] = &Purchase{ID: "a", Supplier: strPtr("Lider"), Date: strPtr("2024-01-10"), Total: numPtr(1000)}
			db.purchases["b"] = &Purchase{ID: "b", Supplier: strPtr("Jumbo"), Date: strPtr("2024-02-10"), Total: numPtr(500)}
		})

		It("lists purchases with their total sum", func() {
			resp := do(http.MethodGet, "/api/purchases", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result ListResult
			decode(resp, &result)
			Expect(result.Purchases).To(HaveLen(2))
			Expect(result.TotalSum).To(Equal(1500.0))
		})

		It("filters the list", func() {
			resp := do(http.MethodGet, "/api/purchases?q=jumbo&from=2024-02-01&to=2024-02-28", nil, "")
			var result ListResult
			decode(resp, &result)
			Expect(result.Purchases).To(HaveLen(1))
			Expect(result.Purchases[0].ID).To(Equal("b"))
		})

		It("rejects malformed date bounds", func() {
			resp := do(http.MethodGet, "/api/purchases?from=yesterday", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("deletes the filtered purchases", func() {
			resp := do(http.MethodDelete, "/api/purchases/filtered?q=lider", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]int
			decode(resp, &body)
			Expect(body["deleted"]).To(Equal(1))
			Expect(db.purchases).To(HaveKey("b"))
		})

		It("deletes everything", func() {
			resp := do(http.MethodDelete, "/api/purchases", nil, "")
			var body map[string]int
			decode(resp, &body)
			Expect(body["deleted"]).To(Equal(2))
			Expect(db.purchases).To(BeEmpty())
		})

		It("exports a workbook", func() {
			resp := do(http.MethodGet, "/api/purchases/export.xlsx?q=lider", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename=purchases-20240305.xlsx`))
		})
	})
})
