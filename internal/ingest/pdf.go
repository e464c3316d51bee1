package ingest

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageText is the extracted plain text of one PDF page. Page numbers are
// 1-based, matching what a reader sees in a viewer.
type pageText struct {
	number int
	text   string
}

// extractPages pulls plain text out of every page of a PDF. Pages that fail
// to decode are skipped with a warning. The parser can panic on malformed
// structures, so the whole walk runs behind a recover.
func extractPages(data []byte) (pages []pageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, pageText{number: i, text: text})
		}
	}
	return pages, nil
}
