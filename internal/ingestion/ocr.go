package ingestion

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// ExtractTextWithOCR runs OCR on images or scanned PDFs.
// For PDFs we convert pages to PNGs using pdftoppm (poppler).
func ExtractTextWithOCR(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return runTesseract(func(c *gosseract.Client) error { return c.SetImage(path) })
	}

	dir, err := os.MkdirTemp("", "wfb_pdfimg")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if err := exec.Command("pdftoppm", "-png", path, prefix).Run(); err != nil {
		return "", fmt.Errorf("pdftoppm convert failed: %w", err)
	}
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", err
	}
	var combined strings.Builder
	for _, m := range matches {
		t, err := runTesseract(func(c *gosseract.Client) error { return c.SetImage(m) })
		if err != nil {
			continue
		}
		combined.WriteString(t)
		combined.WriteString("\n")
	}
	return nonEmpty(combined.String())
}

// ImageTextFromBytes runs OCR on an in-memory image.
func ImageTextFromBytes(data []byte) (string, error) {
	text, err := runTesseract(func(c *gosseract.Client) error { return c.SetImageFromBytes(data) })
	if err != nil {
		return "", err
	}
	return nonEmpty(text)
}

func runTesseract(load func(*gosseract.Client) error) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := load(client); err != nil {
		return "", err
	}
	text, err := client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
