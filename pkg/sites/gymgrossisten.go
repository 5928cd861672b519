package sites

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
)

// Gymgrossisten renders product pages with a price span near the buy box
// and a per-serving nutrition table. Campaign pages add a struck-through
// original price before the current one.
type Gymgrossisten struct {
	parser *tableParser
}

func NewGymgrossisten(tables *config.Tables, catalog *ingredients.Catalog) *Gymgrossisten {
	return &Gymgrossisten{parser: newTableParser(tables, catalog)}
}

func (g *Gymgrossisten) CanHandle(url string) bool {
	return strings.Contains(strings.ToLower(url), "gymgrossisten.")
}

var servingSizePhrase = regexp.MustCompile(`(?i)(?:portionsstorlek|serving size|per portion|per dos)\s*:?\s*(\d+(?:[.,]\d+)?)\s*(g|gram)`)

func (g *Gymgrossisten) Extract(markup string) (*Result, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, errors.New("empty markup")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	res := &Result{Ingredients: map[string]models.IngredientEntry{}}

	res.ProductName = strings.TrimSpace(doc.Find("h1.product-name, h1[itemprop=name], h1").First().Text())

	priceSel := doc.Find(".product-price, .price-sales, [itemprop=price], .price")
	if v, ok := price(priceSel); ok {
		res.PriceSEK = v
	}

	grid, class := g.bestTable(doc)
	if grid != nil {
		res.TableFound = true
		res.TableClass = class
		if class == TableSupplement {
			res.Ingredients, res.Unrecognized, res.TotalCaffeineMg = g.parser.parseIngredients(grid)
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

	res.ProductType = detectProductType(res.ProductName + " " + doc.Find(".product-description, .short-description").Text())
	res.ServingsPerContainer, res.QuantityTier = g.parser.containerSize(doc, res.ProductName, servingGrams, res.ProductType)
	res.Confidence = confidenceFor(res.TableFound, res.TableClass, res.PriceSEK > 0, res.QuantityTier)
	return res, nil
}

func (g *Gymgrossisten) ToStructuredFormat(res *Result) *models.StructuredSupplementData {
	s := toStructured(res)
	s.Meta.PriceSelector = ".product-price"
	return s
}

// bestTable classifies every table on the page and keeps the supplement one
// when present; a nutritional table is only reported, never parsed.
func (g *Gymgrossisten) bestTable(doc *goquery.Document) (*models.TableGrid, TableClass) {
	var bestGrid *models.TableGrid
	bestClass := TableNone
	doc.Find("table").Each(func(i int, t *goquery.Selection) {
		grid := gridFromTable(t)
		class := g.parser.classify(grid)
		if class == TableNone {
			return
		}
		if bestGrid == nil || (class == TableSupplement && bestClass != TableSupplement) {
			bestGrid, bestClass = grid, class
		}
	})
	return bestGrid, bestClass
}

// gridFromTable flattens a table element into header plus rows.
func gridFromTable(t *goquery.Selection) *models.TableGrid {
	grid := &models.TableGrid{}
	t.Find("thead th").Each(func(i int, th *goquery.Selection) {
		grid.Headers = append(grid.Headers, strings.TrimSpace(th.Text()))
	})
	t.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var row []string
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		if len(row) > 0 {
			grid.Rows = append(grid.Rows, row)
		}
	})
	if len(grid.Headers) == 0 && len(grid.Rows) == 0 {
		return nil
	}
	return grid
}
