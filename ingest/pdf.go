package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// converterResponse mirrors the docling converter service payload.
type converterResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}

// loadPDF extracts numbered text sections from a PDF. The file is validated
// and optionally cropped with pdfcpu, then handed to the external converter
// service which returns markdown; markdown headings delimit the sections.
func (g *Ingestor) loadPDF(path string) ([]Section, error) {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid pdf %s: %w", path, err)
	}
	log.Printf("[INGEST] loading pdf %s (%d pages)", path, pages)

	workPath := path
	if g.cropTop > 0 || g.cropBottom > 0 {
		cropped := filepath.Join(os.TempDir(), "crop_"+filepath.Base(path))
		if err := cropHeaderFooter(path, cropped, g.cropTop, g.cropBottom); err != nil {
			return nil, err
		}
		defer os.Remove(cropped)
		workPath = cropped
	}

	if g.converterURL == "" {
		return nil, errors.New("CONVERTER_URL not configured, cannot extract pdf text")
	}

	md, err := convertPDFToMarkdown(workPath, g.converterURL)
	if err != nil {
		return nil, err
	}

	return sectionsFromMarkdown(md), nil
}

// cropHeaderFooter cuts top and bottom margins off every page so repeating
// headers and footers do not pollute the chunks. Margins are in points
// (1 pt = 1/72 inch).
func cropHeaderFooter(inputPath, outputPath string, top, bottom float64) error {
	conf := api.LoadConfiguration()

	cropStr := fmt.Sprintf("%.2f 0 %.2f 0", top, bottom)
	box, err := pdfmodel.ParseBox(cropStr, pdftypes.POINTS)
	if err != nil {
		return fmt.Errorf("failed to parse crop box: %w", err)
	}

	if err := api.CropFile(inputPath, outputPath, []string{"1-"}, box, conf); err != nil {
		return fmt.Errorf("failed to crop PDF: %w", err)
	}
	return nil
}

// convertPDFToMarkdown posts the file to the converter service and returns
// the markdown rendition of its content.
func convertPDFToMarkdown(path, converterURL string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequest("POST", converterURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("converter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("converter error: status %d, body: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var d converterResponse
	if err := json.Unmarshal(body, &d); err != nil {
		return "", fmt.Errorf("decode converter response: %w", err)
	}
	return d.Document.MdContent, nil
}

// sectionsFromMarkdown splits converter markdown into sections on heading
// lines. Text before the first heading forms section 1.
func sectionsFromMarkdown(md string) []Section {
	var sections []Section
	var buf strings.Builder
	num := 0

	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		num++
		sections = append(sections, Section{Text: text, Number: num})
	}

	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			// keep the heading text with its section body
			buf.WriteString(strings.TrimSpace(strings.TrimLeft(line, "#")))
			buf.WriteString("\n")
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()

	return sections
}
