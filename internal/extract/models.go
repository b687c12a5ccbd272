package extract

// EventLite is one calendar-worthy event as produced by the extraction
// backend. Owned upstream; this agent only reads and reshapes it.
type EventLite struct {
	Title       string  `json:"title,omitempty"`
	Start       string  `json:"start,omitempty"`
	End         string  `json:"end,omitempty"`
	AllDay      bool    `json:"allDay,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Source      string  `json:"source,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Location    string  `json:"location,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// Event provenance tags.
const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

// Warning codes emitted by the extraction backend.
const (
	WarningRelativeDate          = "RELATIVE_DATE"
	WarningTimezoneAssumed       = "TIMEZONE_ASSUMED"
	WarningEndBeforeStartDropped = "END_BEFORE_START_DROPPED"
	WarningBadISODropped         = "BAD_ISO_DROPPED"
	WarningEmptyText             = "EMPTY_TEXT"
	WarningLLMTimeout            = "LLM_TIMEOUT"
	WarningLLMBadJSON            = "LLM_BAD_JSON"
	WarningOther                 = "OTHER"
)

// Warning describes a non-fatal extraction defect for display.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Timings records how long each extraction strategy took upstream.
type Timings struct {
	TotalMS int64 `json:"totalMs"`
	LLMMS   int64 `json:"llmMs,omitempty"`
	RulesMS int64 `json:"rulesMs,omitempty"`
}

// Meta carries upstream strategy diagnostics.
type Meta struct {
	Strategy       string   `json:"strategy,omitempty"`
	Timings        *Timings `json:"timings,omitempty"`
	Model          string   `json:"model,omitempty"`
	DegradedReason string   `json:"degradedReason,omitempty"`
}

// ExtractionResult is the latest backend extraction outcome. Degraded means
// a fallback strategy produced it.
type ExtractionResult struct {
	Events   []EventLite `json:"events"`
	Degraded bool        `json:"degraded,omitempty"`
	Warnings []Warning   `json:"warnings,omitempty"`
	Meta     *Meta       `json:"meta,omitempty"`
}

// NormalizeEvents drops events that cannot be rendered or added: ones
// missing a title or a start.
func NormalizeEvents(result *ExtractionResult) []EventLite {
	if result == nil {
		return nil
	}
	normalized := make([]EventLite, 0, len(result.Events))
	for _, event := range result.Events {
		if event.Title == "" || event.Start == "" {
			continue
		}
		normalized = append(normalized, event)
	}
	return normalized
}
