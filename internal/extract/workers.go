package extract

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/fetcher"
	"github.com/tillskottskollen/extractor/pkg/pagecache"
	"github.com/tillskottskollen/extractor/pkg/pipeline"
	"github.com/tillskottskollen/extractor/pkg/runstore"
)

// job is one URL for a worker to process.
type job struct {
	URL string
}

// outcome pairs a URL with its extraction result or a fetch failure.
type outcome struct {
	URL    string
	RunID  int64
	Result *models.ExtractionResult
	Err    error
}

type pool struct {
	log        zerolog.Logger
	orch       *pipeline.Orchestrator
	fetch      *fetcher.Fetcher
	cache      *pagecache.Cache
	store      *runstore.Store
	forceFetch bool
}

// run fans the URLs out over workerCount workers and collects all outcomes.
func (p *pool) run(ctx context.Context, urls []string, workerCount int) []outcome {
	if workerCount <= 0 {
		workerCount = 4
	}
	jobs := make(chan job, len(urls))
	results := make(chan outcome, len(urls))

	var wg sync.WaitGroup
	for w := 1; w <= workerCount; w++ {
		wg.Add(1)
		go p.worker(ctx, w, &wg, jobs, results)
	}
	for _, u := range urls {
		jobs <- job{URL: u}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]outcome, 0, len(urls))
	for o := range results {
		out = append(out, o)
	}
	return out
}

func (p *pool) worker(ctx context.Context, id int, wg *sync.WaitGroup, jobs <-chan job, results chan<- outcome) {
	defer wg.Done()
	for j := range jobs {
		log := p.log.With().Int("worker", id).Str("url", j.URL).Logger()

		markup, err := p.page(ctx, j.URL, log)
		if err != nil {
			log.Error().Err(err).Msg("fetch failed")
			results <- outcome{URL: j.URL, Err: err}
			continue
		}

		result := p.orch.Extract(ctx, j.URL, markup)
		o := outcome{URL: j.URL, Result: result}

		if data, err := json.Marshal(result); err == nil {
			if err := p.cache.SetResult(j.URL, data); err != nil {
				log.Warn().Err(err).Msg("cache result failed")
			}
		}
		if p.store != nil {
			runID, err := p.store.SaveResult(result)
			if err != nil {
				log.Warn().Err(err).Msg("persist run failed")
			}
			o.RunID = runID
		}
		results <- o
	}
}

// page returns cached markup when fresh, fetching and caching otherwise.
// Non-HTTP inputs are treated as local HTML files and bypass the cache.
func (p *pool) page(ctx context.Context, url string, log zerolog.Logger) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if !p.forceFetch {
		if data, found, err := p.cache.GetPage(url); err == nil && found {
			log.Debug().Msg("page cache hit")
			return string(data), nil
		}
	}
	markup, err := p.fetch.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if err := p.cache.SetPage(url, []byte(markup)); err != nil {
		log.Warn().Err(err).Msg("cache page failed")
	}
	return markup, nil
}
