package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/config"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/ingest"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/obsink"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/orchestrator"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/prompts"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/scanner"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Drive the orchestrator to quiescence and exit",
	Long: `Run the full service/submit loop until no active batches remain and the
scanner finds nothing runnable.

Exit codes:
  0  clean exit at quiescence
  1  unrecoverable configuration error
  2  unrecoverable state-store corruption`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			logger.Error("config load failed", "error", err)
			return err
		}
		cfg := cm.Get()
		if err := cfg.Validate(); err != nil {
			logger.Error("config invalid", "error", err)
			return err
		}

		paths := records.Paths{
			LabelRoot:  cfg.Paths.LabelSourceDir,
			ImageRoot:  cfg.Paths.ImageSourceDir,
			OutputRoot: cfg.Paths.OutputDir,
		}

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("state store open failed", "error", err)
			return err
		}
		defer st.Close()

		prompt, err := prompts.Load(cfg.Prompt.Name, cfg.Prompt.RegistryDir, cfg.Prompt.TemplateFile)
		if err != nil {
			logger.Error("prompt load failed", "error", err)
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}

		gw, err := gateway.NewGeminiClient(gateway.GeminiConfig{
			Model: cfg.Model.Name,
			Generation: gateway.GenerationSettings{
				Temperature:      cfg.Model.GenerationConfig.Temperature,
				TopP:             cfg.Model.GenerationConfig.TopP,
				MaxOutputTokens:  cfg.Model.GenerationConfig.MaxOutputTokens,
				ResponseMIMEType: cfg.Model.GenerationConfig.ResponseMIMEType,
			},
			RetryAttempts: cfg.Files.UploadRetryAttempts,
			RetryBackoff:  time.Duration(cfg.Files.UploadRetryBackoffSeconds) * time.Second,
			PollAttempts:  cfg.Batch.MaxPollAttempts,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("gateway init failed", "error", err)
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}

		var sink *obsink.Sink
		if cfg.Sink.Enabled {
			sink = obsink.New(obsink.Config{URL: cfg.Sink.URL, Logger: logger})
			if sink != nil {
				sink.Start(ctx)
				defer sink.Stop()
			}
		}

		genCfg, _ := json.Marshal(cfg.Model.GenerationConfig)
		ing := ingest.New(st, paths, ingest.CallContext{
			ModelName:        cfg.Model.Name,
			PromptName:       prompt.Name,
			PromptTemplate:   prompt.Text,
			GenerationConfig: string(genCfg),
		}, sink, logger)

		orch := orchestrator.New(st, gw, ing, prompt, orchestrator.Config{
			Paths: paths,
			Scan: scanner.Options{
				States:     cfg.Filters.TargetStates,
				YearStart:  cfg.Filters.TargetYears.Start,
				YearEnd:    cfg.Filters.TargetYears.End,
				MaxRetries: cfg.Execution.MaxRetries,
				Limit:      cfg.Execution.BatchSizeLimit,
			},
			MaxConcurrentBatches: cfg.Execution.MaxConcurrentBatches,
			PollInterval:         time.Duration(cfg.Batch.PollIntervalSeconds) * time.Second,
			DisplayNamePrefix:    cfg.Batch.DisplayNamePrefix,
		}, logger)

		summary, runErr := orch.Run(ctx)
		summary.Log(logger)
		if path, err := summary.Write(paths); err != nil {
			logger.Warn("failed to write run summary", "error", err)
		} else {
			logger.Info("run summary written", "path", path)
		}

		return runErr
	},
}
