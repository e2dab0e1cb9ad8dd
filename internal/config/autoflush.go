package config

// BatchConfig caps how much one flush cycle may select.
type BatchConfig struct {
	MaxSessionsPerCycle         int `json:"maxSessionsPerCycle"`
	MaxSessionsPerAgentPerCycle int `json:"maxSessionsPerAgentPerCycle"`
}

// MemoryContextConfig controls the dedupe context given to the extractor.
type MemoryContextConfig struct {
	MemorySnippets  int `json:"memorySnippets"`
	SnippetMaxChars int `json:"snippetMaxChars"`
}

// ExtractorConfig controls the summarization step of a flush.
type ExtractorConfig struct {
	Model                string              `json:"model,omitempty"` // empty = agent default model
	NoReplyToken         string              `json:"noReplyToken"`
	MaxMessagesPerFlush  int                 `json:"maxMessagesPerFlush"`
	MaxCharsPerFlush     int                 `json:"maxCharsPerFlush"`
	MaxExtractionSeconds int                 `json:"maxExtractionSeconds"`
	IncludeMemoryContext MemoryContextConfig `json:"includeMemoryContext"`
}

// AutoFlushConfig configures the background memory auto-flush scheduler.
type AutoFlushConfig struct {
	Enabled                     bool            `json:"enabled"`
	FlushIntervalSeconds        int             `json:"flushIntervalSeconds"`
	IdleSeconds                 int             `json:"idleSeconds"`
	MaxDirtyAgeSeconds          int             `json:"maxDirtyAgeSeconds"`
	StaleTTLSeconds             int             `json:"staleTtlSeconds"`
	MaxCrossSessionReprioritize int             `json:"maxCrossSessionReprioritize"`
	RetryCooldownSeconds        int             `json:"retryCooldownSeconds"`
	MaxRetryCooldownSeconds     int             `json:"maxRetryCooldownSeconds"`
	Batch                       BatchConfig     `json:"batch"`
	Extractor                   ExtractorConfig `json:"extractor"`
}

// MemoryConfig groups memory-subsystem settings.
type MemoryConfig struct {
	AutoFlush AutoFlushConfig `json:"autoFlush"`
}

func defaultMemoryConfig() MemoryConfig {
	return MemoryConfig{AutoFlush: defaultAutoFlushConfig()}
}

func defaultAutoFlushConfig() AutoFlushConfig {
	return AutoFlushConfig{
		Enabled:                     true,
		FlushIntervalSeconds:        60,
		IdleSeconds:                 120,
		MaxDirtyAgeSeconds:          1800,
		StaleTTLSeconds:             7 * 24 * 3600,
		MaxCrossSessionReprioritize: 3,
		RetryCooldownSeconds:        60,
		MaxRetryCooldownSeconds:     3600,
		Batch: BatchConfig{
			MaxSessionsPerCycle:         4,
			MaxSessionsPerAgentPerCycle: 2,
		},
		Extractor: ExtractorConfig{
			NoReplyToken:         "NO_MEMORY",
			MaxMessagesPerFlush:  40,
			MaxCharsPerFlush:     16000,
			MaxExtractionSeconds: 60,
			IncludeMemoryContext: MemoryContextConfig{
				MemorySnippets:  5,
				SnippetMaxChars: 400,
			},
		},
	}
}
