package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"categorytree/rewriter/internal/domain"
)

// DefaultSelectors are tried in order when looking for the category container
var DefaultSelectors = []string{
	"#categories",
	".categories",
	".category-list",
	".widget-category",
}

const (
	DefaultMarker          = "/category/"
	DefaultSidebarSelector = ".sidebar"
)

var (
	countSuffixRegex = regexp.MustCompile(`\s*\(\d+\)\s*$`)
	countRegex       = regexp.MustCompile(`\((\d+)\)`)
)

type CategoryParser struct {
	selectors       []string
	sidebarSelector string
	marker          string
}

func NewCategoryParser(selectors []string, sidebarSelector, marker string) *CategoryParser {
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	if sidebarSelector == "" {
		sidebarSelector = DefaultSidebarSelector
	}
	if marker == "" {
		marker = DefaultMarker
	}
	return &CategoryParser{
		selectors:       selectors,
		sidebarSelector: sidebarSelector,
		marker:          marker,
	}
}

// LocateContainer finds the element hosting the category list.
// It returns an empty selection and an empty source when nothing matches.
func (p *CategoryParser) LocateContainer(doc *goquery.Document) (*goquery.Selection, string) {
	for _, selector := range p.selectors {
		if container := doc.Find(selector).First(); container.Length() > 0 {
			log.Debugf("Found category container via %s", selector)
			return container, selector
		}
	}

	log.Debugf("No category container selector matched, searching %s", p.sidebarSelector)

	// Each qualifying anchor overrides the previous one: the last match wins
	var container *goquery.Selection
	doc.Find(p.sidebarSelector).First().Find("a").Each(func(i int, link *goquery.Selection) {
		href, exists := link.Attr("href")
		if !exists || !strings.Contains(href, p.marker) {
			return
		}
		if grandparent := link.Parent().Parent(); grandparent.Length() > 0 {
			container = grandparent
		}
	})

	if container == nil {
		log.Info("🔍 No category container found")
		return doc.Selection.Slice(0, 0), ""
	}

	log.Debugf("Found category container in %s", p.sidebarSelector)
	return container, p.sidebarSelector
}

// ExtractRecords converts every qualifying anchor inside the container
// into a record, in document order
func (p *CategoryParser) ExtractRecords(container *goquery.Selection) []domain.CategoryRecord {
	records := make([]domain.CategoryRecord, 0)

	container.Find("a").Each(func(i int, link *goquery.Selection) {
		href, exists := link.Attr("href")
		if !exists {
			return
		}

		record, ok := p.ParseLink(href, link.Text())
		if !ok {
			return
		}
		records = append(records, record)
	})

	log.Debugf("Extracted %d category records", len(records))
	return records
}

// ParseLink derives a record from an anchor destination and its text.
// It reports false when the destination carries no category marker.
func (p *CategoryParser) ParseLink(href, text string) (domain.CategoryRecord, bool) {
	i := strings.Index(href, p.marker)
	if i < 0 {
		return domain.CategoryRecord{}, false
	}

	// A second marker ends the path, as a split on the marker would
	rest := href[i+len(p.marker):]
	if j := strings.Index(rest, p.marker); j >= 0 {
		rest = rest[:j]
	}

	path := decodePath(strings.TrimSuffix(rest, "/"))
	if path == "" {
		// Link to the category index itself
		return domain.CategoryRecord{}, false
	}

	count := "0"
	if matches := countRegex.FindStringSubmatch(text); len(matches) > 1 {
		count = matches[1]
	}

	return domain.CategoryRecord{
		Path:  path,
		Name:  strings.TrimSpace(countSuffixRegex.ReplaceAllString(text, "")),
		Count: count,
		Level: domain.PathLevel(path),
		Href:  href,
	}, true
}

// decodePath unescapes each segment on its own so an encoded slash stays
// inside its segment. Undecodable segments are kept raw.
func decodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			log.Debugf("Keeping undecodable category segment %q: %v", segment, err)
			continue
		}
		segments[i] = strings.ReplaceAll(decoded, "/", "%2F")
	}
	return strings.Join(segments, "/")
}
