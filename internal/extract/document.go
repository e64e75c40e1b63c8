package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/snapclass/snapclass/internal/model"
)

// Document is an opened, paginated source document.
type Document interface {
	NumPage() int
	// PageText returns the plain text of page i (1-based).
	PageText(i int) (string, error)
	Close() error
}

// DocumentAdapter extracts per-page text from lecture PDFs.
type DocumentAdapter struct {
	OutputDir string
	open      func(src string) (Document, error)
}

// NewDocumentAdapter builds an adapter that writes into outputDir.
func NewDocumentAdapter(outputDir string) *DocumentAdapter {
	return &DocumentAdapter{OutputDir: outputDir, open: openPDF}
}

func (a *DocumentAdapter) Kind() model.SourceKind { return model.SourceDocument }

func (a *DocumentAdapter) OutputPath(src string) string {
	return OutputPath(a.OutputDir, src, model.SourceDocument)
}

func (a *DocumentAdapter) Extract(ctx context.Context, src string, emit Emit) (out Output, err error) {
	if emit == nil {
		emit = noopEmit
	}
	defer func() {
		if err != nil {
			emit(model.StatusEvent("Error in PDF processing: " + err.Error()))
		}
	}()

	emit(model.StatusEvent("Starting PDF processing..."))
	doc, err := a.open(src)
	if err != nil {
		return Output{}, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	emit(model.StatusEvent(fmt.Sprintf("PDF loaded successfully. Total pages: %d", total)))

	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		emit(model.StatusEvent(fmt.Sprintf("Processing page %d/%d...", i, total)))
		text, err := doc.PageText(i)
		if err != nil {
			slog.Warn("page text extraction failed", "path", src, "page", i, "error", err)
			text = ""
		}
		pages = append(pages, text)
		emit(model.ContentEvent(fmt.Sprintf("Page %d Content:\n\nText:\n%s\n\n", i, text)))
		emit(model.StatusEvent(fmt.Sprintf("Page %d processed - %d chars, 0 images", i, len(text))))
	}
	emit(model.StatusEvent("PDF processing completed successfully!"))

	md := renderMarkdown(filepath.Base(src), pages)
	path := a.OutputPath(src)
	if err := writeArtifact(path, md); err != nil {
		return Output{}, err
	}
	emit(model.StatusEvent("PDF processing completed and saved to: " + path))
	return Output{Text: md, Path: path}, nil
}

func renderMarkdown(source string, pages []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Complete Extraction from: %s\n\n", source)
	fmt.Fprintf(&sb, "**Total Pages:** %d\n\n", len(pages))
	for i, text := range pages {
		fmt.Fprintf(&sb, "\n\n## Page %d\n\n", i+1)
		sb.WriteString(text + "\n\n")
	}
	return sb.String()
}

type pdfDocument struct {
	f *os.File
	r *pdf.Reader
}

func openPDF(src string) (Document, error) {
	f, r, err := pdf.Open(src)
	if err != nil {
		return nil, err
	}
	return &pdfDocument{f: f, r: r}, nil
}

func (d *pdfDocument) NumPage() int { return d.r.NumPage() }

func (d *pdfDocument) PageText(i int) (string, error) {
	p := d.r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (d *pdfDocument) Close() error { return d.f.Close() }
