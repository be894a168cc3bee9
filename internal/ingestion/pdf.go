package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractTextFromPDF tries to extract text; returns empty string if none found.
func ExtractTextFromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := plainText(r)
	if err != nil {
		return "", err
	}
	if text == "" {
		// try pdftotext CLI if available
		out, err := exec.Command("pdftotext", "-layout", path, "-").Output()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
	}
	return text, nil
}

// ExtractTextFromPDFBytes reads the text layer of an in-memory PDF.
func ExtractTextFromPDFBytes(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	text, err := plainText(r)
	if err != nil {
		return "", err
	}
	return nonEmpty(text)
}

func plainText(r *pdf.Reader) (string, error) {
	b, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
