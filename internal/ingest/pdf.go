package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Document is the raw material pulled from one invoice PDF: the plain
// text of all pages and, when present, the QR string found in it.
type Document struct {
	Text   string
	QRCode string
}

// qrPattern matches the three-segment base64url shape of the signed QR
// payload. The leading eyJ is base64url for a JSON object opener.
var qrPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

// ReadPDF extracts the plain text of the PDF at path and scans it for
// a QR string. Extraction quality is whatever the PDF text layer
// carries; scanned images with no text layer yield an empty document.
func ReadPDF(path string) (Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("extract text from %s: %w", path, err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return Document{}, fmt.Errorf("read text from %s: %w", path, err)
	}

	doc := Document{Text: sb.String()}
	if qr, ok := LocateQR(doc.Text); ok {
		doc.QRCode = qr
	}
	return doc, nil
}

// LocateQR finds the first JWT-shaped token in extracted text.
func LocateQR(text string) (string, bool) {
	match := qrPattern.FindString(text)
	return match, match != ""
}
