package extraction

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// pdfPlainText reads the native text layer of a PDF. Scanned PDFs have no
// text layer and come back empty, which the ladder treats as a miss.
func pdfPlainText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
