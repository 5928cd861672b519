package models

// Source identifies which extraction strategy produced the accepted record.
type Source string

const (
	SourceSite    Source = "site"
	SourceModel   Source = "model"
	SourcePattern Source = "pattern"
	SourceVision  Source = "vision"
	SourceUser    Source = "user"
	SourceMinimal Source = "minimal"
)

// UserPrompt asks a human for one missing field, with a best-effort
// suggestion derived from the highest-scoring available block.
type UserPrompt struct {
	Field      Field  `json:"field"`
	Prompt     string `json:"prompt"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ExtractionResult wraps the final record plus the audit trail of the run.
// It is created empty by the orchestrator, progressively filled as layers
// run, and frozen once a terminal state is reached. It is always returned;
// callers branch on Success rather than on errors.
type ExtractionResult struct {
	Success         bool                      `json:"success"`
	Source          Source                    `json:"source"`
	Record          *SupplementRecord         `json:"record,omitempty"`
	Structured      *StructuredSupplementData `json:"structured,omitempty"`
	Completeness    int                       `json:"completeness"` // 0..100
	FallbacksUsed   []string                  `json:"fallbacks_used"`
	MissingFields   []Field                   `json:"missing_fields,omitempty"`
	UserInputNeeded []UserPrompt              `json:"user_input_needed,omitempty"`
	URL             string                    `json:"url,omitempty"`
	CorrelationID   string                    `json:"correlation_id"`
	Warnings        []string                  `json:"warnings,omitempty"`
}
