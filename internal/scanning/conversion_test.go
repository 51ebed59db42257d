package scanning

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-pipeline/internal/document"
)

var _ = Describe("isHEICFormat", func() {
	It("recognizes a HEIC ftyp box", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00"))).To(BeTrue())
	})

	It("rejects other data", func() {
		Expect(isHEICFormat([]byte("\x89PNG\r\n\x1a\n0000"))).To(BeFalse())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})
})

var _ = Describe("PreparePNG", func() {
	It("passes small PNGs through unchanged", func() {
		data := testPNG(8, 8)
		out, err := PreparePNG(document.Blob{Name: "a.png", Data: data}, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("rejects kinds that are not images or pages", func() {
		_, err := PreparePNG(document.Blob{Name: "a.csv"}, 0)
		Expect(errors.Is(err, ErrUnreadableImage)).To(BeTrue())
	})

	It("reports unreadable PDFs", func() {
		_, err := PreparePNG(document.Blob{Name: "a.pdf", Data: []byte("%PDF-broken")}, 0)
		Expect(errors.Is(err, ErrUnreadableImage)).To(BeTrue())
	})
})
