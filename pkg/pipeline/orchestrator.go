package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/blocks"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/patterns"
	"github.com/tillskottskollen/extractor/pkg/ranker"
	"github.com/tillskottskollen/extractor/pkg/sites"
)

// Mode selects how the site extractor and the legacy block pipeline are
// combined for URLs with a known layout.
type Mode string

const (
	// ModeSequential tries the site extractor first and only runs the
	// legacy pipeline when its confidence is too low to skip it.
	ModeSequential Mode = "sequential"
	// ModeParallel runs both concurrently and merges.
	ModeParallel Mode = "parallel"
)

// Orchestrator is the top-level entry point: one call per product page.
type Orchestrator struct {
	Registry   *sites.Registry
	Ranker     *ranker.Ranker
	Patterns   *patterns.Extractor
	Machine    *Machine
	Thresholds config.Thresholds
	Mode       Mode
	Log        zerolog.Logger
}

// Extract runs the full extraction for one page. It always returns a result;
// total failure yields the minimal structure with Success false.
func (o *Orchestrator) Extract(ctx context.Context, rawURL, markup string) *models.ExtractionResult {
	correlationID := uuid.NewString()
	log := o.Log.With().Str("correlation_id", correlationID).Str("url", rawURL).Logger()

	var result *models.ExtractionResult
	extractor, known := o.Registry.Find(rawURL)
	switch {
	case !known:
		log.Debug().Msg("no site adapter, running legacy pipeline only")
		result = o.legacy(ctx, rawURL, markup)
	case o.Mode == ModeParallel:
		result = o.parallel(ctx, extractor, rawURL, markup, log)
	default:
		result = o.sequential(ctx, extractor, rawURL, markup, log)
	}

	result.URL = rawURL
	result.CorrelationID = correlationID
	return result
}

// sequential runs the site extractor first; a confident structured result
// skips the legacy pipeline entirely.
func (o *Orchestrator) sequential(ctx context.Context, extractor sites.Extractor, rawURL, markup string, log zerolog.Logger) *models.ExtractionResult {
	structured := o.site(extractor, markup, log)
	if structured != nil && structured.Meta.Confidence >= o.Thresholds.SequentialSkip {
		log.Debug().Int("confidence", structured.Meta.Confidence).Msg("site extraction confident, skipping legacy pipeline")
		return o.siteResult(structured)
	}
	result := o.legacy(ctx, rawURL, markup)
	return o.merge(structured, result)
}

// parallel runs both strategies concurrently and merges.
func (o *Orchestrator) parallel(ctx context.Context, extractor sites.Extractor, rawURL, markup string, log zerolog.Logger) *models.ExtractionResult {
	var (
		wg         sync.WaitGroup
		structured *models.StructuredSupplementData
		result     *models.ExtractionResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		structured = o.site(extractor, markup, log)
	}()
	go func() {
		defer wg.Done()
		result = o.legacy(ctx, rawURL, markup)
	}()
	wg.Wait()
	return o.merge(structured, result)
}

// legacy is the block pipeline: extract, rank, pattern-match, then the
// fallback chain.
func (o *Orchestrator) legacy(ctx context.Context, rawURL, markup string) *models.ExtractionResult {
	ext := blocks.Extract(rawURL, markup)
	ranking := o.Ranker.Rank(ext.Blocks)
	pattern := o.Patterns.Extract(ranking.All())
	return o.Machine.Run(ctx, Page{
		URL:     rawURL,
		Meta:    ext.Meta,
		Ranking: ranking,
		Pattern: pattern,
	})
}

func (o *Orchestrator) site(extractor sites.Extractor, markup string, log zerolog.Logger) *models.StructuredSupplementData {
	res, err := extractor.Extract(markup)
	if err != nil {
		log.Warn().Err(err).Msg("site extraction failed")
		return nil
	}
	return extractor.ToStructuredFormat(res)
}

// siteResult wraps a confident structured extraction as the final result.
func (o *Orchestrator) siteResult(structured *models.StructuredSupplementData) *models.ExtractionResult {
	rec := structured.ToRecord()
	comp, missing := Completeness(rec)
	return &models.ExtractionResult{
		Success:       comp >= o.Thresholds.CompletenessFloor,
		Source:        models.SourceSite,
		Record:        rec,
		Structured:    structured,
		Completeness:  comp,
		MissingFields: missing,
		FallbacksUsed: []string{},
	}
}

// merge combines a site extraction with a legacy result. The legacy record
// keeps identity fields where it has them; the site extractor owns the
// ingredient panel whenever it found a supplement table.
func (o *Orchestrator) merge(structured *models.StructuredSupplementData, result *models.ExtractionResult) *models.ExtractionResult {
	if structured == nil {
		return result
	}
	if result == nil || result.Record == nil {
		return o.siteResult(structured)
	}

	rec := result.Record
	siteRec := structured.ToRecord()
	if structured.Meta.TableFound && len(siteRec.ActiveIngredients) > 0 {
		rec.ActiveIngredients = siteRec.ActiveIngredients
	}
	mergeMissing(rec, siteRec)
	ensurePrimary(rec)

	comp, missing := Completeness(rec)
	result.Completeness = comp
	result.MissingFields = missing
	result.Structured = rec.ToStructured()
	result.Structured.Meta = structured.Meta
	result.Structured.Unrecognized = append(result.Structured.Unrecognized, structured.Unrecognized...)
	if !result.Success && comp >= o.Thresholds.AcceptConfidence {
		result.Success = true
		result.Source = models.SourceSite
		result.UserInputNeeded = nil
	}
	return result
}
