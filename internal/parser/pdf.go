package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// PDFMagic is the signature every PDF file starts with.
var PDFMagic = []byte("%PDF-")

// IsPDF reports whether r starts with the PDF signature.
func IsPDF(r io.Reader) bool {
	head := make([]byte, len(PDFMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return false
	}
	return bytes.Equal(head, PDFMagic)
}

// PDFInfo is the page geometry read straight from a PDF.
type PDFInfo struct {
	PageCount int
	Sizes     map[int]PageSize
}

// ProbePDF reads the page count and each page's MediaBox. Pages without a
// readable MediaBox are left out of Sizes.
func ProbePDF(path string) (info PDFInfo, err error) {
	f, err := os.Open(path)
	if err != nil {
		return PDFInfo{}, err
	}
	defer f.Close()
	if !IsPDF(f) {
		return PDFInfo{}, fmt.Errorf("probe %s: not a pdf", path)
	}

	// the reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %s: %v", path, r)
		}
	}()

	file, r, err := pdf.Open(path)
	if err != nil {
		return PDFInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}
	defer file.Close()

	info = PDFInfo{PageCount: r.NumPage(), Sizes: map[int]PageSize{}}
	for i := 1; i <= info.PageCount; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		if size, ok := mediaBox(p.V); ok {
			info.Sizes[i] = size
		}
	}
	return info, nil
}

// mediaBox walks up the page tree since MediaBox is inheritable.
func mediaBox(v pdf.Value) (PageSize, bool) {
	for depth := 0; depth < 16 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return PageSize{Width: w, Height: h}, true
			}
		}
		v = v.Key("Parent")
	}
	return PageSize{}, false
}
