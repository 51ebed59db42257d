package invoice

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-pipeline/internal/document"
	"github.com/zombor/invoice-pipeline/internal/scanning"
)

type zipEntry struct {
	name string
	data []byte
}

func zipOf(entries ...zipEntry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		Expect(err).NotTo(HaveOccurred())
		_, err = w.Write(e.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(zw.Close()).To(Succeed())
	return buf.Bytes()
}

const threeRowCSV = "Invoice No,Vendor,Total\nA-1,Acme,10\nA-2,Acme,20\nA-3,Acme,30\n"

func sources(batch BatchResult) []string {
	out := make([]string, len(batch.Results))
	for i, r := range batch.Results {
		out[i] = r.Source
	}
	return out
}

var _ = Describe("Pipeline", func() {
	var (
		vision   *mockVision
		rows     *mockRows
		pipeline *Pipeline
		ctx      context.Context
		blobs    []document.Blob
		batch    BatchResult
	)

	BeforeEach(func() {
		vision = newMockVision()
		rows = newMockRows()
		pipeline = NewPipeline(vision, rows, 4)
		ctx = context.Background()
		blobs = nil
	})

	JustBeforeEach(func() {
		batch = pipeline.Run(ctx, blobs...)
	})

	When("a single image is submitted", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "a.png", Data: []byte("png")}}
		})

		It("should return one successful invoice", func() {
			Expect(batch.Results).To(HaveLen(1))
			result := batch.Results[0]
			Expect(result.Status).To(Equal(StatusSuccess))
			Expect(result.Source).To(Equal("a.png"))
			Expect(result.Error).To(BeNil())
			Expect(result.Invoice.VendorName).To(Equal("Acme Corp"))
			Expect(result.Invoice.TotalAmount).To(BeAmount("108"))
			Expect(result.Invoice.SourceFile).To(Equal("a.png"))
		})

		It("should call the vision extractor once", func() {
			Expect(vision.callCount()).To(Equal(1))
			Expect(rows.callCount()).To(Equal(0))
		})
	})

	When("a CSV has three rows and the second times out", func() {
		BeforeEach(func() {
			rows.errs[3] = fmt.Errorf("calling model: %w", scanning.ErrTimeout)
			blobs = []document.Blob{{Name: "march.csv", Data: []byte(threeRowCSV)}}
		})

		It("should return three results in row order", func() {
			Expect(sources(batch)).To(Equal([]string{"march.csv#row2", "march.csv#row3", "march.csv#row4"}))
		})

		It("should fail only the second row", func() {
			Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
			Expect(batch.Results[1].Status).To(Equal(StatusFailed))
			Expect(batch.Results[1].Invoice).To(BeNil())
			Expect(batch.Results[1].Error.Kind).To(Equal(KindModelTimeout))
			Expect(batch.Results[2].Status).To(Equal(StatusSuccess))
			Expect(batch.Succeeded()).To(Equal(2))
		})

		It("should normalize row headers", func() {
			inv := batch.Results[2].Invoice
			Expect(*inv.InvoiceNumber).To(Equal("A-3"))
			Expect(inv.VendorName).To(Equal("Acme"))
			Expect(inv.TotalAmount).To(BeAmount("30"))
			Expect(inv.SourceFile).To(Equal("march.csv"))
		})

		It("should use one model call per row", func() {
			Expect(rows.callCount()).To(Equal(3))
			Expect(vision.callCount()).To(Equal(0))
		})
	})

	When("an unsupported file is submitted", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "notes.docx", Data: []byte("doc")}}
		})

		It("should fail without calling any model", func() {
			Expect(batch.Results).To(HaveLen(1))
			Expect(batch.Results[0].Status).To(Equal(StatusFailed))
			Expect(batch.Results[0].Error.Kind).To(Equal(KindUnsupportedFileType))
			Expect(vision.callCount()).To(Equal(0))
			Expect(rows.callCount()).To(Equal(0))
		})
	})

	When("a spreadsheet cannot be read", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "legacy.xls", Data: []byte{0xD0, 0xCF, 0x11, 0xE0}}}
		})

		It("should report an unsupported file type", func() {
			Expect(batch.Results).To(HaveLen(1))
			Expect(batch.Results[0].Error.Kind).To(Equal(KindUnsupportedFileType))
			Expect(rows.callCount()).To(Equal(0))
		})
	})

	When("an archive carries OS metadata entries", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "batch.zip", Data: zipOf(
				zipEntry{"invoice.png", []byte("png")},
				zipEntry{".DS_Store", []byte("junk")},
				zipEntry{"__MACOSX/._invoice.png", []byte("junk")},
			)}}
		})

		It("should only process the real member", func() {
			Expect(batch.Results).To(HaveLen(1))
			Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
			Expect(batch.Results[0].Source).To(Equal("invoice.png"))
			Expect(vision.callCount()).To(Equal(1))
		})
	})

	When("an archive mixes images and a spreadsheet", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "batch.zip", Data: zipOf(
				zipEntry{"a.png", []byte("png")},
				zipEntry{"rows.csv", []byte(threeRowCSV)},
				zipEntry{"b.pdf", []byte("pdf")},
			)}}
		})

		It("should expand rows in place", func() {
			Expect(sources(batch)).To(Equal([]string{
				"a.png", "rows.csv#row2", "rows.csv#row3", "rows.csv#row4", "b.pdf",
			}))
			Expect(batch.Succeeded()).To(Equal(5))
		})
	})

	When("an archive contains another archive", func() {
		BeforeEach(func() {
			inner := zipOf(zipEntry{"deep.png", []byte("png")})
			blobs = []document.Blob{{Name: "outer.zip", Data: zipOf(
				zipEntry{"inner.zip", inner},
				zipEntry{"top.png", []byte("png")},
			)}}
		})

		It("should not expand the nested archive", func() {
			Expect(sources(batch)).To(Equal([]string{"inner.zip", "top.png"}))
			Expect(batch.Results[0].Status).To(Equal(StatusFailed))
			Expect(batch.Results[0].Error.Kind).To(Equal(KindUnsupportedFileType))
			Expect(batch.Results[0].Error.Message).To(ContainSubstring("nested archive"))
			Expect(batch.Results[1].Status).To(Equal(StatusSuccess))
		})
	})

	When("an archive is corrupt", func() {
		BeforeEach(func() {
			blobs = []document.Blob{{Name: "broken.zip", Data: []byte("PK\x03\x04 definitely not a zip")}}
		})

		It("should return one ArchiveCorrupt failure", func() {
			Expect(batch.Results).To(HaveLen(1))
			Expect(batch.Results[0].Source).To(Equal("broken.zip"))
			Expect(batch.Results[0].Error.Kind).To(Equal(KindArchiveCorrupt))
		})
	})

	When("the model returns an invalid response", func() {
		BeforeEach(func() {
			vision.errs["bad.png"] = fmt.Errorf("parsing fields: %w", scanning.ErrInvalidResponse)
			blobs = []document.Blob{
				{Name: "good.png", Data: []byte("png")},
				{Name: "bad.png", Data: []byte("png")},
			}
		})

		It("should isolate the failure", func() {
			Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
			Expect(batch.Results[1].Status).To(Equal(StatusFailed))
			Expect(batch.Results[1].Error.Kind).To(Equal(KindModelInvalidResponse))
		})
	})

	When("the endpoint is unreachable", func() {
		BeforeEach(func() {
			vision.errs["a.png"] = fmt.Errorf("%w: connection refused", scanning.ErrNetwork)
			blobs = []document.Blob{{Name: "a.png", Data: []byte("png")}}
		})

		It("should report a network error", func() {
			Expect(batch.Results[0].Error.Kind).To(Equal(KindNetworkError))
		})
	})

	When("an extractor panics", func() {
		BeforeEach(func() {
			vision.panicFor = "boom.png"
			blobs = []document.Blob{
				{Name: "boom.png", Data: []byte("png")},
				{Name: "fine.png", Data: []byte("png")},
			}
		})

		It("should report an internal failure and keep going", func() {
			Expect(batch.Results).To(HaveLen(2))
			Expect(batch.Results[0].Error.Kind).To(Equal(KindInternal))
			Expect(batch.Results[0].Error.Message).NotTo(ContainSubstring("boom"))
			Expect(batch.Results[1].Status).To(Equal(StatusSuccess))
		})
	})

	When("many units run concurrently", func() {
		var names []string

		BeforeEach(func() {
			vision.delay = 10 * time.Millisecond
			names = nil
			blobs = nil
			for i := range 12 {
				name := fmt.Sprintf("page-%02d.png", i)
				names = append(names, name)
				blobs = append(blobs, document.Blob{Name: name, Data: []byte("png")})
			}
		})

		It("should keep submission order", func() {
			Expect(sources(batch)).To(Equal(names))
			Expect(batch.Succeeded()).To(Equal(12))
		})
	})

	When("the batch is cancelled before it starts", func() {
		BeforeEach(func() {
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = cancelled
			blobs = []document.Blob{
				{Name: "a.png", Data: []byte("png")},
				{Name: "rows.csv", Data: []byte(threeRowCSV)},
			}
		})

		It("should report every unit as cancelled", func() {
			Expect(batch.Results).To(HaveLen(4))
			for _, r := range batch.Results {
				Expect(r.Status).To(Equal(StatusFailed))
				Expect(r.Error.Kind).To(Equal(KindCancelled))
			}
		})

		It("should not call any model", func() {
			Expect(vision.callCount()).To(Equal(0))
			Expect(rows.callCount()).To(Equal(0))
		})
	})

	When("the batch is cancelled mid-flight", func() {
		BeforeEach(func() {
			vision.delay = 100 * time.Millisecond
			pipeline = NewPipeline(vision, rows, 1)
			cancelled, cancel := context.WithCancel(context.Background())
			timer := time.AfterFunc(20*time.Millisecond, cancel)
			DeferCleanup(func() {
				timer.Stop()
				cancel()
			})
			ctx = cancelled
			blobs = []document.Blob{
				{Name: "a.png", Data: []byte("png")},
				{Name: "b.png", Data: []byte("png")},
				{Name: "c.png", Data: []byte("png")},
			}
		})

		It("should still return one result per unit", func() {
			Expect(batch.Results).To(HaveLen(3))
		})

		It("should let the started unit finish", func() {
			Expect(batch.Results[0].Status).To(Equal(StatusSuccess))
			Expect(batch.Results[0].Invoice).NotTo(BeNil())
		})

		It("should not start the remaining units", func() {
			Expect(batch.Results[1].Error.Kind).To(Equal(KindCancelled))
			Expect(batch.Results[2].Error.Kind).To(Equal(KindCancelled))
			Expect(batch.Results[2].Error.Message).To(ContainSubstring("before the item started"))
			Expect(vision.callCount()).To(Equal(1))
		})
	})

	When("no blobs are submitted", func() {
		It("should return an empty batch", func() {
			Expect(batch.Results).To(BeEmpty())
		})
	})
})
