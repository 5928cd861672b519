package sites

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
)

// Proteinbolaget lays its nutrition panel out as a definition list instead
// of a table: dt carries the ingredient label, the following dd the amount.
// The dl is flattened into the shared grid form so classification and row
// parsing stay identical across sites.
type Proteinbolaget struct {
	parser *tableParser
}

func NewProteinbolaget(tables *config.Tables, catalog *ingredients.Catalog) *Proteinbolaget {
	return &Proteinbolaget{parser: newTableParser(tables, catalog)}
}

func (p *Proteinbolaget) CanHandle(url string) bool {
	return strings.Contains(strings.ToLower(url), "proteinbolaget.")
}

func (p *Proteinbolaget) Extract(markup string) (*Result, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, errors.New("empty markup")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	res := &Result{Ingredients: map[string]models.IngredientEntry{}}

	res.ProductName = strings.TrimSpace(doc.Find("h1.product-title, h1").First().Text())

	priceSel := doc.Find(".product-price-new, .current-price, .product-price, .price")
	if v, ok := price(priceSel); ok {
		res.PriceSEK = v
	}

	grid, class := p.bestPanel(doc)
	if grid != nil {
		res.TableFound = true
		res.TableClass = class
		if class == TableSupplement {
			res.Ingredients, res.Unrecognized, res.TotalCaffeineMg = p.parser.parseIngredients(grid)
		}
	} else {
		res.TableClass = TableNone
	}

	bodyText := doc.Find("body").Text()
	servingGrams := 0.0
	if m := servingSizePhrase.FindStringSubmatch(bodyText); m != nil {
		res.ServingSize = m[1] + " g"
		servingGrams, _ = strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	}

	res.ProductType = detectProductType(res.ProductName + " " + doc.Find(".product-info, .description").Text())
	res.ServingsPerContainer, res.QuantityTier = p.parser.containerSize(doc, res.ProductName, servingGrams, res.ProductType)
	res.Confidence = confidenceFor(res.TableFound, res.TableClass, res.PriceSEK > 0, res.QuantityTier)
	return res, nil
}

func (p *Proteinbolaget) ToStructuredFormat(res *Result) *models.StructuredSupplementData {
	s := toStructured(res)
	s.Meta.PriceSelector = ".product-price-new"
	return s
}

// bestPanel prefers a dl-based supplement panel, falling back to any table
// the page carries.
func (p *Proteinbolaget) bestPanel(doc *goquery.Document) (*models.TableGrid, TableClass) {
	var bestGrid *models.TableGrid
	bestClass := TableNone
	consider := func(grid *models.TableGrid) {
		class := p.parser.classify(grid)
		if class == TableNone {
			return
		}
		if bestGrid == nil || (class == TableSupplement && bestClass != TableSupplement) {
			bestGrid, bestClass = grid, class
		}
	}
	doc.Find("dl").Each(func(i int, dl *goquery.Selection) {
		consider(gridFromDefinitionList(dl))
	})
	doc.Find("table").Each(func(i int, t *goquery.Selection) {
		consider(gridFromTable(t))
	})
	return bestGrid, bestClass
}

// gridFromDefinitionList pairs each dt with its following dd.
func gridFromDefinitionList(dl *goquery.Selection) *models.TableGrid {
	grid := &models.TableGrid{}
	dl.Find("dt").Each(func(i int, dt *goquery.Selection) {
		label := strings.TrimSpace(dt.Text())
		value := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if label == "" {
			return
		}
		grid.Rows = append(grid.Rows, []string{label, value})
	})
	if len(grid.Rows) == 0 {
		return nil
	}
	return grid
}
