// Package extract implements the CLI actions: extract runs the pipeline over
// URLs, complete merges user-provided field values into a partial run, and
// history lists persisted runs.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/fetcher"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/llm"
	"github.com/tillskottskollen/extractor/pkg/normalizer"
	"github.com/tillskottskollen/extractor/pkg/pagecache"
	"github.com/tillskottskollen/extractor/pkg/patterns"
	"github.com/tillskottskollen/extractor/pkg/pipeline"
	"github.com/tillskottskollen/extractor/pkg/ranker"
	"github.com/tillskottskollen/extractor/pkg/runstore"
	"github.com/tillskottskollen/extractor/pkg/sites"
	"github.com/tillskottskollen/extractor/pkg/vision"
)

func newLogger(c *cli.Context) zerolog.Logger {
	level := zerolog.InfoLevel
	if c.Bool("quiet") {
		level = zerolog.ErrorLevel
	}
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// buildComponents wires the full pipeline from CLI flags.
func buildComponents(c *cli.Context, log zerolog.Logger) (*pipeline.Orchestrator, *pipeline.Machine, *config.Tables, error) {
	tables, err := config.Load(c.String("tables"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load extraction tables: %w", err)
	}
	catalog := ingredients.NewCatalog(tables)
	pats, err := patterns.New(tables)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compile pattern families: %w", err)
	}

	machine := &pipeline.Machine{
		Catalog:    catalog,
		Thresholds: tables.Thresholds,
		Log:        log,
	}
	if apiKey := c.String("api-key"); apiKey != "" {
		client := llm.New(c.String("base-url"), apiKey)
		machine.Normalizer = &normalizer.Normalizer{
			Client:  client,
			Model:   c.String("model"),
			Catalog: catalog,
		}
		if visionModel := c.String("vision-model"); visionModel != "" {
			machine.Vision = &vision.Client{LLM: client, Model: visionModel}
		}
	} else {
		log.Warn().Msg("no api key configured, model and vision stages disabled")
	}

	mode := pipeline.ModeSequential
	if c.String("mode") == string(pipeline.ModeParallel) {
		mode = pipeline.ModeParallel
	}
	orch := &pipeline.Orchestrator{
		Registry: sites.NewRegistry(
			sites.NewGymgrossisten(tables, catalog),
			sites.NewProteinbolaget(tables, catalog),
		),
		Ranker:     ranker.New(tables),
		Patterns:   pats,
		Machine:    machine,
		Thresholds: tables.Thresholds,
		Mode:       mode,
		Log:        log,
	}
	return orch, machine, tables, nil
}

// ExtractAction fetches the given URLs and runs the extraction pipeline over
// each, persisting results to the run store and the page cache.
func ExtractAction(c *cli.Context) error {
	log := newLogger(c)

	urls := splitURLs(c.String("urls"))
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no URLs provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, `Usage: supplement-extractor extract --urls "https://shop.se/p1,https://shop.se/p2"`)
		return cli.Exit("", 1)
	}

	orch, _, _, err := buildComponents(c, log)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	var maxAge time.Duration
	if !c.Bool("force-fetch") {
		maxAge, err = time.ParseDuration(c.String("max-age"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid max-age: %v", err), 2)
		}
	}
	cache, err := pagecache.New(c.String("cache-dir"), maxAge)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	store, err := runstore.Open(c.String("db"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer store.Close()

	p := &pool{
		log:        log,
		orch:       orch,
		fetch:      fetcher.NewFetcher(),
		cache:      cache,
		store:      store,
		forceFetch: c.Bool("force-fetch"),
	}
	outcomes := p.run(c.Context, urls, c.Int("workers"))

	var failed int
	type row struct {
		URL    string                   `json:"url" yaml:"url"`
		RunID  int64                    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
		Error  string                   `json:"error,omitempty" yaml:"error,omitempty"`
		Result *models.ExtractionResult `json:"result,omitempty" yaml:"result,omitempty"`
	}
	rows := make([]row, 0, len(outcomes))
	for _, o := range outcomes {
		r := row{URL: o.URL, RunID: o.RunID, Result: o.Result}
		if o.Err != nil {
			r.Error = o.Err.Error()
			failed++
		} else if o.Result != nil && !o.Result.Success {
			failed++
		}
		rows = append(rows, r)
	}

	if err := printDocument(c, rows); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if failed == len(urls) {
		return cli.Exit("", 2)
	}
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// CompleteAction loads a cached partial result for a URL, merges the
// user-supplied field values and revalidates.
func CompleteAction(c *cli.Context) error {
	log := newLogger(c)

	rawURL := c.String("url")
	if rawURL == "" {
		return cli.Exit("Error: --url is required", 1)
	}
	inputs, err := parseSetFlags(c.StringSlice("set"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(inputs) == 0 {
		return cli.Exit(`Error: nothing to merge, pass --set "field=value" (fields: name, price, total_servings, serving_size, ingredients)`, 1)
	}

	_, machine, _, err := buildComponents(c, log)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	cache, err := pagecache.New(c.String("cache-dir"), 0)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	data, found, err := cache.GetResult(rawURL)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if !found {
		return cli.Exit("Error: no cached extraction for this URL, run extract first", 1)
	}
	var result models.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return cli.Exit(fmt.Sprintf("decode cached result: %v", err), 2)
	}

	merged := machine.ApplyUserInput(&result, inputs)

	if data, err := json.Marshal(merged); err == nil {
		if err := cache.SetResult(rawURL, data); err != nil {
			log.Warn().Err(err).Msg("cache result failed")
		}
	}
	store, err := runstore.Open(c.String("db"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer store.Close()
	if _, err := store.SaveResult(merged); err != nil {
		log.Warn().Err(err).Msg("persist run failed")
	}

	if err := printDocument(c, merged); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if !merged.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// HistoryAction lists persisted runs, newest first. With --run it prints the
// stored ingredient rows of one run.
func HistoryAction(c *cli.Context) error {
	store, err := runstore.Open(c.String("db"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer store.Close()

	if runID := c.Int64("run"); runID > 0 {
		ings, err := store.Ingredients(runID)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		if len(ings) == 0 {
			fmt.Printf("Run %d has no ingredients\n", runID)
			return nil
		}
		fmt.Printf("%-18s %-22s %-12s %-8s %-8s\n", "Key", "Name", "Dosage (mg)", "Primary", "Sources")
		fmt.Println(strings.Repeat("-", 74))
		for _, ing := range ings {
			fmt.Printf("%-18s %-22s %-12.1f %-8v %-8s\n",
				ing.Key, ing.DisplayName, ing.DosageMg, ing.Primary, strings.Join(ing.Sources, ","))
		}
		return nil
	}

	runs, err := store.Recent(c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-6s %-20s %-10s %-8s %-6s %-28s %-10s\n",
		"ID", "Created", "Source", "Complete", "OK", "Name", "Price")
	fmt.Println(strings.Repeat("-", 94))
	for _, r := range runs {
		name := r.Name
		if len(name) > 26 {
			name = name[:26]
		}
		fmt.Printf("%-6d %-20s %-10s %-8d %-6v %-28s %-10.2f\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Source, r.Completeness, r.Success, name, r.PriceSEK)
	}
	fmt.Printf("\nTotal: %d runs\n", len(runs))
	fmt.Printf("\nTip: supplement-extractor history --run <id> shows ingredients\n")
	return nil
}

func splitURLs(raw string) []string {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(u); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseSetFlags turns repeated --set "field=value" flags into typed field
// inputs.
func parseSetFlags(raw []string) (map[models.Field]string, error) {
	valid := map[string]models.Field{
		"name":           models.FieldName,
		"price":          models.FieldPrice,
		"total_servings": models.FieldServings,
		"serving_size":   models.FieldServingSize,
		"ingredients":    models.FieldIngredients,
	}
	out := make(map[models.Field]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected field=value", kv)
		}
		field, known := valid[strings.TrimSpace(key)]
		if !known {
			return nil, fmt.Errorf("unknown field %q in --set", key)
		}
		out[field] = strings.TrimSpace(value)
	}
	return out, nil
}

func printDocument(c *cli.Context, doc any) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(c.String("format"), "yaml") {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
