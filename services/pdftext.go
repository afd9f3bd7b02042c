package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// ExtractPageTexts returns the text layer of every page, one entry per page.
// Pages without text (scanned slides) yield empty strings. The text is only
// a hint for the script writer, so callers may ignore the error.
func ExtractPageTexts(data []byte) (texts []string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("failed to parse PDF text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	texts = make([]string, numPages)

	for i := 1; i <= numPages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}

		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}

		text, pageErr := p.GetPlainText(fonts)
		if pageErr != nil {
			log.Debug().Err(pageErr).Int("page", i).Msg("skipping unreadable PDF text layer")
			continue
		}
		texts[i-1] = strings.Join(strings.Fields(text), " ")
	}
	return texts, nil
}
