// Package neuroscope knows the neuroscope page locator and markup. It does
// no I/O: the transport lives in the colly fetcher.
package neuroscope

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// DefaultBaseURL is the public neuroscope host.
const DefaultBaseURL = "https://neuroscope.io/"

const excerptLimit = 200

// PageURL builds <base>/<model>/<layer>/<neuron>.html.
func PageURL(base string, addr neuron.Address) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/%s/%d/%d.html",
		strings.TrimRight(base, "/"), url.PathEscape(addr.Model), addr.Layer, addr.Neuron)
}

// Parse reads the importance table from a neuron page. Each
// tr[data-layer][data-neuron] row inside table.importances contributes one
// entry, scored by its td.score cell.
func Parse(pageURL string, body []byte) (neuron.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return neuron.Page{}, &neuron.ParseError{URL: pageURL, Excerpt: excerpt(string(body)), Err: err}
	}
	table := doc.Find("table.importances").First()
	if table.Length() == 0 {
		return neuron.Page{}, &neuron.ParseError{
			URL:     pageURL,
			Excerpt: excerpt(string(body)),
			Err:     errors.New("importance table not found"),
		}
	}

	var (
		entries  []neuron.Importance
		parseErr error
	)
	table.Find("tr[data-layer][data-neuron]").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		entry, err := parseRow(row)
		if err != nil {
			html, _ := goquery.OuterHtml(row)
			parseErr = &neuron.ParseError{URL: pageURL, Excerpt: excerpt(html), Err: err}
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if parseErr != nil {
		return neuron.Page{}, parseErr
	}
	return neuron.NewPage(entries), nil
}

func parseRow(row *goquery.Selection) (neuron.Importance, error) {
	layer, err := parseIndex(row.AttrOr("data-layer", ""))
	if err != nil {
		return neuron.Importance{}, fmt.Errorf("data-layer: %w", err)
	}
	idx, err := parseIndex(row.AttrOr("data-neuron", ""))
	if err != nil {
		return neuron.Importance{}, fmt.Errorf("data-neuron: %w", err)
	}
	cell := row.Find("td.score").First()
	if cell.Length() == 0 {
		return neuron.Importance{}, errors.New("score cell missing")
	}
	// ParseFloat accepts inf, -inf and nan spellings.
	score, err := strconv.ParseFloat(strings.TrimSpace(cell.Text()), 32)
	if err != nil {
		return neuron.Importance{}, fmt.Errorf("score: %w", err)
	}
	return neuron.Importance{
		Target: neuron.Index{Layer: layer, Neuron: idx},
		Score:  float32(score),
	}, nil
}

func parseIndex(raw string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit]
}
