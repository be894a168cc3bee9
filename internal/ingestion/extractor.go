// Package ingestion extracts plain text from uploaded or local documents.
package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoText      = errors.New("could not extract text from the document")
)

// pdfOCR is replaced in tests, where poppler and tesseract are absent.
var pdfOCR = ExtractTextWithOCR

// ExtractText detects the file type of path and returns its text, falling
// back to OCR for scanned PDFs.
func ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return nonEmpty(string(b))
	case ".pdf":
		text, err := ExtractTextFromPDF(path)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		return pdfOCR(path)
	case ".png", ".jpg", ".jpeg":
		return ExtractTextWithOCR(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}

// ExtractBytes returns the text of an in-memory document named name.
func ExtractBytes(name string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".txt", ".md":
		return nonEmpty(string(data))
	case ".pdf", "":
		// uploads without an extension are assumed to be PDF
		text, err := ExtractTextFromPDFBytes(data)
		if err == nil {
			return text, nil
		}
		return ocrPDFBytes(data)
	case ".png", ".jpg", ".jpeg":
		return ImageTextFromBytes(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}

// ocrPDFBytes spools a scanned upload to disk for pdftoppm.
func ocrPDFBytes(data []byte) (string, error) {
	f, err := os.CreateTemp("", "wfb_upload-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return pdfOCR(f.Name())
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
