package extract

import (
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// plainTextReader is the slice of pdf.Reader the extractor needs.
type plainTextReader interface {
	GetPlainText() (io.Reader, error)
}

func openPDF(path string) (*os.File, plainTextReader, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, r, nil
}
