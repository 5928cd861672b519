// Package blocks parses raw product-page markup into typed semantic blocks.
// The parser is permissive: malformed markup never produces an error, only
// fewer blocks.
package blocks

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/tillskottskollen/extractor/models"
)

const (
	// Text blocks shorter than this are dropped as noise.
	minTextLength = 10
	// Containers must carry this much more unique text than the
	// concatenation of their children to avoid duplicate nested reporting.
	containerUniqueRatio = 1.3
)

// PageMeta carries readability enrichment used for name suggestions and the
// vision fallback's image hint. Absent fields stay empty.
type PageMeta struct {
	Title    string
	SiteName string
	Excerpt  string
	Image    string
}

// Extraction is the block extractor's output: blocks partitioned by kind
// plus page metadata.
type Extraction struct {
	Blocks []models.SemanticBlock
	Meta   PageMeta
}

// Extract parses markup into semantic blocks. It is a pure function of its
// input and never fails: unparseable fragments are omitted.
func Extract(rawURL, markup string) Extraction {
	var ext Extraction
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ext
	}

	ext.Meta = readMeta(rawURL, markup)
	if ext.Meta.Title == "" {
		ext.Meta.Title = normalizeText(doc.Find("title").First().Text())
	}

	doc.Find("h1,h2,h3,h4,h5,h6,p,ul,ol,table,span,strong,b,div").Each(func(i int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		switch tag {
		case "table":
			if grid := extractTable(s); grid != nil {
				ext.Blocks = append(ext.Blocks, block(models.BlockTable, s, tableText(grid), grid, 0))
			}
		case "ul", "ol":
			text := listText(s)
			if len(text) >= minTextLength {
				ext.Blocks = append(ext.Blocks, block(models.BlockList, s, text, nil, 0))
			}
		case "p":
			text := normalizeText(s.Text())
			if len(text) >= minTextLength {
				ext.Blocks = append(ext.Blocks, block(models.BlockParagraph, s, text, nil, 0))
			}
		case "span", "strong", "b":
			// Short spans stay: prices like "249 kr" live here.
			if text := normalizeText(s.Text()); text != "" {
				ext.Blocks = append(ext.Blocks, block(models.BlockSpan, s, text, nil, 0))
			}
		case "div":
			text := normalizeText(ownText(s))
			if len(text) < minTextLength {
				return
			}
			if !containerAddsText(s, text) {
				return
			}
			ext.Blocks = append(ext.Blocks, block(models.BlockContainer, s, text, nil, 0))
		default: // headings
			text := normalizeText(s.Text())
			if text == "" {
				return
			}
			ext.Blocks = append(ext.Blocks, block(models.BlockHeading, s, text, nil, headingLevel(tag)))
		}
	})

	return ext
}

func block(kind models.BlockKind, s *goquery.Selection, text string, grid *models.TableGrid, level int) models.SemanticBlock {
	raw, _ := goquery.OuterHtml(s)
	return models.SemanticBlock{
		Kind:         kind,
		Text:         text,
		RawMarkup:    raw,
		Attributes:   attrText(s),
		HeadingLevel: level,
		Table:        grid,
	}
}

// containerAddsText keeps a container only when it contributes meaningfully
// more unique text than its children combined.
func containerAddsText(s *goquery.Selection, containerText string) bool {
	var childLen int
	s.Children().Each(func(i int, c *goquery.Selection) {
		childLen += len(normalizeText(c.Text()))
	})
	if childLen == 0 {
		return true
	}
	total := len(normalizeText(s.Text()))
	return float64(total)/float64(childLen) > containerUniqueRatio
}

// ownText returns the selection's text including children; containers are
// filtered by containerAddsText, not here.
func ownText(s *goquery.Selection) string {
	return s.Text()
}

func attrText(s *goquery.Selection) string {
	var parts []string
	if class, ok := s.Attr("class"); ok && class != "" {
		parts = append(parts, class)
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		parts = append(parts, id)
	}
	if itemprop, ok := s.Attr("itemprop"); ok && itemprop != "" {
		parts = append(parts, itemprop)
	}
	return strings.Join(parts, " ")
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' {
		return int(tag[1] - '0')
	}
	return 0
}

func extractTable(s *goquery.Selection) *models.TableGrid {
	var headers []string
	var rows [][]string

	s.Find("thead tr th").Each(func(i int, th *goquery.Selection) {
		headers = append(headers, normalizeText(th.Text()))
	})
	if len(headers) == 0 {
		s.Find("tr").First().Find("th").Each(func(i int, cell *goquery.Selection) {
			headers = append(headers, normalizeText(cell.Text()))
		})
	}

	s.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var row []string
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			row = append(row, normalizeText(td.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})

	if len(headers) == 0 && len(rows) == 0 {
		return nil
	}
	return &models.TableGrid{Headers: headers, Rows: rows}
}

func tableText(grid *models.TableGrid) string {
	var sb strings.Builder
	if len(grid.Headers) > 0 {
		sb.WriteString(strings.Join(grid.Headers, " "))
		sb.WriteString(" ")
	}
	for _, row := range grid.Rows {
		sb.WriteString(strings.Join(row, " "))
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

func listText(s *goquery.Selection) string {
	var items []string
	s.Find("li").Each(func(i int, li *goquery.Selection) {
		if text := normalizeText(li.Text()); text != "" {
			items = append(items, text)
		}
	})
	return strings.Join(items, "; ")
}

// readMeta runs readability for title/site/image enrichment. Failures are
// tolerated; the pipeline works from blocks alone.
func readMeta(rawURL, markup string) PageMeta {
	var meta PageMeta
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return meta
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(markup), parsedURL)
	if err != nil {
		return meta
	}
	meta.Title = normalizeText(article.Title)
	meta.SiteName = article.SiteName
	meta.Excerpt = article.Excerpt
	meta.Image = article.Image
	return meta
}

// normalizeText trims each line and collapses whitespace to single spaces.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			b.WriteString(field)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String())
}
