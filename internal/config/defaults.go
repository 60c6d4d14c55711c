package config

// DefaultConfig returns configuration with sensible defaults.
// Paths have no defaults: they must be set explicitly.
func DefaultConfig() *Config {
	return &Config{
		Filters: FiltersConfig{
			TargetStates: []string{},
		},
		Execution: ExecutionConfig{
			MaxRetries:           3,
			BatchSizeLimit:       100,
			MaxConcurrentBatches: 4,
		},
		Model: ModelConfig{
			Name: "gemini-2.0-flash",
			GenerationConfig: GenerationConfig{
				Temperature:      0.0,
				TopP:             0.95,
				MaxOutputTokens:  8192,
				ResponseMIMEType: "application/json",
			},
		},
		Batch: BatchConfig{
			PollIntervalSeconds: 60,
			MaxPollAttempts:     5,
			DisplayNamePrefix:   "ocr-batch",
		},
		Files: FilesConfig{
			UploadRetryAttempts:       3,
			UploadRetryBackoffSeconds: 2,
		},
		Prompt: PromptConfig{
			Name: "ocr_page",
		},
		Database: DatabaseConfig{
			Path: "ocrbatch.db",
		},
		Sink: SinkConfig{
			Enabled: false,
		},
	}
}
