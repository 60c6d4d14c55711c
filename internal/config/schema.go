package config

// Config holds the orchestrator configuration.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Filters   FiltersConfig   `mapstructure:"filters" yaml:"filters"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Model     ModelConfig     `mapstructure:"model" yaml:"model"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	Files     FilesConfig     `mapstructure:"files" yaml:"files"`
	Prompt    PromptConfig    `mapstructure:"prompt" yaml:"prompt"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Sink      SinkConfig      `mapstructure:"sink" yaml:"sink"`
}

// PathsConfig locates the three filesystem roots.
// Labels and images are read-only; only output_dir is written.
type PathsConfig struct {
	LabelSourceDir string `mapstructure:"label_source_dir" yaml:"label_source_dir"`
	ImageSourceDir string `mapstructure:"image_source_dir" yaml:"image_source_dir"`
	OutputDir      string `mapstructure:"output_dir" yaml:"output_dir"`
}

// FiltersConfig restricts which labels participate in scheduling.
type FiltersConfig struct {
	// TargetStates is an allow-list of state names. Empty means all states.
	TargetStates []string  `mapstructure:"target_states" yaml:"target_states"`
	TargetYears  YearRange `mapstructure:"target_years" yaml:"target_years"`
}

// YearRange is an inclusive [Start, End] filter. Zero values disable the bound.
type YearRange struct {
	Start int `mapstructure:"start" yaml:"start"`
	End   int `mapstructure:"end" yaml:"end"`
}

// ExecutionConfig bounds scheduling.
type ExecutionConfig struct {
	MaxRetries           int `mapstructure:"max_retries" yaml:"max_retries"`
	BatchSizeLimit       int `mapstructure:"batch_size_limit" yaml:"batch_size_limit"`
	MaxConcurrentBatches int `mapstructure:"max_concurrent_batches" yaml:"max_concurrent_batches"`
}

// ModelConfig selects the model and its generation parameters.
type ModelConfig struct {
	Name             string           `mapstructure:"name" yaml:"name"`
	GenerationConfig GenerationConfig `mapstructure:"generation_config" yaml:"generation_config"`
}

// GenerationConfig is passed through to the remote service per request.
type GenerationConfig struct {
	Temperature      float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP             float64 `mapstructure:"top_p" yaml:"top_p"`
	MaxOutputTokens  int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	ResponseMIMEType string  `mapstructure:"response_mime_type" yaml:"response_mime_type"`
}

// BatchConfig controls the remote batch lifecycle.
type BatchConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	MaxPollAttempts     int    `mapstructure:"max_poll_attempts" yaml:"max_poll_attempts"`
	DisplayNamePrefix   string `mapstructure:"display_name_prefix" yaml:"display_name_prefix"`
}

// FilesConfig bounds per-item transfer retries.
type FilesConfig struct {
	UploadRetryAttempts       int `mapstructure:"upload_retry_attempts" yaml:"upload_retry_attempts"`
	UploadRetryBackoffSeconds int `mapstructure:"upload_retry_backoff_seconds" yaml:"upload_retry_backoff_seconds"`
}

// PromptConfig selects the OCR prompt template.
type PromptConfig struct {
	RegistryDir  string `mapstructure:"registry_dir" yaml:"registry_dir"`
	Name         string `mapstructure:"name" yaml:"name"`
	TemplateFile string `mapstructure:"template_file" yaml:"template_file"`
}

// DatabaseConfig locates the state store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SinkConfig configures the optional observability sink.
type SinkConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}
