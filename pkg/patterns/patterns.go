// Package patterns applies locale-aware regular-expression families to
// ranked blocks, producing a typed partial record with per-field confidence.
// The pattern strings live in the extraction tables; this package compiles
// them once at startup.
package patterns

import (
	"fmt"
	"regexp"

	"github.com/pemistahl/lingua-go"

	"github.com/tillskottskollen/extractor/pkg/config"
)

type family struct {
	price          []*regexp.Regexp
	dosage         []*regexp.Regexp
	quantity       []*regexp.Regexp
	servingSize    []*regexp.Regexp
	ingredient     []*regexp.Regexp
	ingredientList []*regexp.Regexp
}

// Extractor holds the compiled per-locale families and a language detector
// that decides which locale's grammar is tried first.
type Extractor struct {
	families map[string]*family
	locales  []string
	detector lingua.LanguageDetector
	fieldCap int
}

// New compiles the configured pattern families. An invalid pattern is a
// startup error, not a runtime one.
func New(tables *config.Tables) (*Extractor, error) {
	e := &Extractor{
		families: make(map[string]*family, len(tables.Patterns)),
		fieldCap: tables.Thresholds.PatternFieldCap,
	}
	for locale, set := range tables.Patterns {
		f := &family{}
		var err error
		if f.price, err = compileAll(set.Price); err != nil {
			return nil, fmt.Errorf("locale %s price: %w", locale, err)
		}
		if f.dosage, err = compileAll(set.Dosage); err != nil {
			return nil, fmt.Errorf("locale %s dosage: %w", locale, err)
		}
		if f.quantity, err = compileAll(set.Quantity); err != nil {
			return nil, fmt.Errorf("locale %s quantity: %w", locale, err)
		}
		if f.servingSize, err = compileAll(set.ServingSize); err != nil {
			return nil, fmt.Errorf("locale %s serving_size: %w", locale, err)
		}
		if f.ingredient, err = compileAll(set.Ingredient); err != nil {
			return nil, fmt.Errorf("locale %s ingredient: %w", locale, err)
		}
		if f.ingredientList, err = compileAll(set.IngredientList); err != nil {
			return nil, fmt.Errorf("locale %s ingredient_list: %w", locale, err)
		}
		e.families[locale] = f
		e.locales = append(e.locales, locale)
	}
	if len(e.locales) == 0 {
		return nil, fmt.Errorf("no pattern locales configured")
	}
	e.detector = lingua.NewLanguageDetectorBuilder().
		FromLanguages(lingua.Swedish, lingua.English).
		Build()
	return e, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// localeOrder returns the configured locales with the detected page language
// first, so its grammar wins ties.
func (e *Extractor) localeOrder(sample string) []string {
	detected := "sv"
	if lang, ok := e.detector.DetectLanguageOf(sample); ok && lang == lingua.English {
		detected = "en"
	}
	order := make([]string, 0, len(e.locales))
	if _, ok := e.families[detected]; ok {
		order = append(order, detected)
	}
	for _, loc := range e.locales {
		if loc != detected {
			order = append(order, loc)
		}
	}
	return order
}
