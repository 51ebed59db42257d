package invoice

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-pipeline/internal/document"
	"github.com/zombor/invoice-pipeline/internal/scanning"
)

var (
	rowVendor = regexp.MustCompile(`(?m)^Vendor: (.+)$`)
	rowNumber = regexp.MustCompile(`(?m)^Invoice No: (.+)$`)
)

// scriptedModel answers vision calls with a fixed invoice and text calls with
// the row's own values. A row whose vendor is "Broken" gets prose back.
type scriptedModel struct {
	mu     sync.Mutex
	vision int
	text   int
	delay  time.Duration
}

func (m *scriptedModel) Generate(ctx context.Context, req scanning.Request) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Image != nil {
		m.vision++
		return "```json\n" + `{"invoice_number":"V-1","vendor_name":"Pixel Supplies","invoice_date":"2024-04-30",` +
			`"amount":"$90.00","tax_amount":"$9.00","total_amount":"$99.00","payment_status":"Unpaid"}` + "\n```", nil
	}

	m.text++
	vendor := rowVendor.FindStringSubmatch(req.Prompt)
	number := rowNumber.FindStringSubmatch(req.Prompt)
	if vendor == nil || number == nil {
		return "", fmt.Errorf("unexpected prompt")
	}
	if vendor[1] == "Broken" {
		return "I could not find an invoice in this row.", nil
	}
	return fmt.Sprintf(`{"invoice_number":%q,"vendor_name":%q,"invoice_date":null,"amount":null,`+
		`"tax_amount":null,"total_amount":"10","payment_status":null}`, number[1], vendor[1]), nil
}

func (m *scriptedModel) Close() error {
	return nil
}

func (m *scriptedModel) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vision, m.text
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		db       *BoltDB
		store    *LocalStorage
		model    *scriptedModel
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		model = &scriptedModel{}
		pipeline := NewPipeline(
			scanning.NewVisionExtractor(model, time.Second, 2000),
			scanning.NewTabularExtractor(model, time.Second),
			2,
		)
		service := NewService(db, pipeline, store)
		server := NewServer(service, BasicAuth{}, 0)

		ghServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE"} {
			ghServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghServer.Close()
		db.Close()
	})

	post := func(filename, contentType string, data []byte) *http.Response {
		body, formType := multipartUpload("file", filename, contentType, data)
		resp, err := http.Post(ghServer.URL()+"/api/invoices", formType, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		return resp
	}

	listIDs := func() []string {
		resp, err := http.Get(ghServer.URL() + "/api/invoices")
		Expect(err).NotTo(HaveOccurred())
		var records []*Record
		decodeBody(resp, &records)
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID
		}
		return ids
	}

	It("should extract, persist and serve a single image", func() {
		pngData := testPNG()
		resp := post("invoice.png", "image/png", pngData)

		var body struct {
			Status string         `json:"status"`
			Data   map[string]any `json:"data"`
		}
		decodeBody(resp, &body)
		Expect(body.Status).To(Equal("Success"))
		Expect(body.Data).To(HaveKeyWithValue("vendor_name", "Pixel Supplies"))
		Expect(body.Data).To(HaveKeyWithValue("invoice_date", "2024-04-30"))
		Expect(body.Data).To(HaveKeyWithValue("total_amount", "99"))
		Expect(body.Data).To(HaveKeyWithValue("source_file", "invoice.png"))

		id, ok := body.Data["id"].(string)
		Expect(ok).To(BeTrue())
		Expect(listIDs()).To(Equal([]string{id}))

		fileResp, err := http.Get(ghServer.URL() + "/api/invoices/" + id + "/file")
		Expect(err).NotTo(HaveOccurred())
		defer fileResp.Body.Close()
		served, err := io.ReadAll(fileResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(served).To(Equal(pngData))
		Expect(fileResp.Header.Get("Content-Type")).To(Equal("image/png"))
	})

	It("should isolate a bad row in a CSV", func() {
		csv := "Invoice No,Vendor,Total\nR-1,Acme,10\nR-2,Broken,20\nR-3,Globex,30\n"
		resp := post("march.csv", "text/csv", []byte(csv))

		var batch BatchResult
		decodeBody(resp, &batch)
		Expect(batch.Results).To(HaveLen(3))
		Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
		Expect(batch.Results[0].Invoice.VendorName).To(Equal("Acme"))
		Expect(batch.Results[1].Status).To(Equal(StatusFailed))
		Expect(batch.Results[1].Error.Kind).To(Equal(KindModelInvalidResponse))
		Expect(batch.Results[2].Invoice.VendorName).To(Equal("Globex"))
		Expect(*batch.Results[2].Invoice.InvoiceNumber).To(Equal("R-3"))

		_, text := model.counts()
		Expect(text).To(Equal(3))
		Expect(listIDs()).To(HaveLen(2))
	})

	It("should expand an archive and skip metadata entries", func() {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for name, data := range map[string][]byte{
			"scan.png":  testPNG(),
			".DS_Store": []byte("junk"),
			"notes.txt": []byte("hello"),
		} {
			w, err := zw.Create(name)
			Expect(err).NotTo(HaveOccurred())
			_, err = w.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(zw.Close()).To(Succeed())

		resp := post("batch.zip", "application/zip", buf.Bytes())
		var batch BatchResult
		decodeBody(resp, &batch)
		Expect(batch.Results).To(HaveLen(2))

		bySource := map[string]ItemResult{}
		for _, r := range batch.Results {
			bySource[r.Source] = r
		}
		Expect(bySource["scan.png"].Status).To(Equal(StatusSuccess))
		Expect(bySource["notes.txt"].Error.Kind).To(Equal(KindUnsupportedFileType))

		vision, _ := model.counts()
		Expect(vision).To(Equal(1))
	})

	It("should report an unreadable image without calling the model", func() {
		resp := post("broken.png", "image/png", []byte("not really a png"))
		var body map[string]any
		decodeBody(resp, &body)
		Expect(body).To(HaveKeyWithValue("status", "Failed"))
		Expect(body["error"]).To(HaveKeyWithValue("kind", "UnsupportedFileType"))

		vision, _ := model.counts()
		Expect(vision).To(Equal(0))
		Expect(listIDs()).To(BeEmpty())
	})

	It("should delete an invoice and its upload", func() {
		resp := post("invoice.png", "image/png", testPNG())
		var body struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		decodeBody(resp, &body)

		record, err := db.GetInvoice(body.Data.ID)
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodDelete, ghServer.URL()+"/api/invoices/"+body.Data.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		delResp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		delResp.Body.Close()
		Expect(delResp.StatusCode).To(Equal(http.StatusNoContent))

		Expect(listIDs()).To(BeEmpty())
		_, err = store.Get(record.UploadPath)
		Expect(err).To(HaveOccurred())
	})

	It("should encode results as documented JSON", func() {
		resp := post("march.csv", "text/csv", []byte("Invoice No,Vendor\nR-9,Acme\n"))
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		var generic map[string][]map[string]any
		Expect(json.Unmarshal(raw, &generic)).To(Succeed())
		item := generic["results"][0]
		Expect(item).To(HaveKeyWithValue("status", "Success"))
		Expect(item).To(HaveKeyWithValue("source", "march.csv#row2"))
		Expect(item["invoice"]).To(HaveKeyWithValue("payment_status", BeNil()))
	})

	It("should finish an in-flight call after the batch is cancelled", func() {
		model.delay = 200 * time.Millisecond
		pipeline := NewPipeline(scanning.NewVisionExtractor(model, 5*time.Second, 2000), nil, 1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(20*time.Millisecond, cancel)

		batch := pipeline.Run(ctx,
			document.Blob{Name: "a.png", Data: testPNG()},
			document.Blob{Name: "b.png", Data: testPNG()},
		)
		Expect(batch.Results).To(HaveLen(2))
		Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
		Expect(batch.Results[0].Invoice.VendorName).To(Equal("Pixel Supplies"))
		Expect(batch.Results[1].Error.Kind).To(Equal(KindCancelled))
	})
})
