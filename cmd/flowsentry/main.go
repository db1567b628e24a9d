package main

// Package main is the entry point for the flowsentry anomaly pipeline.
//
// Two run modes, both batch:
//   - train:   fit a fresh scaler/forest pair on the recent history and
//              persist it as the current model
//   - predict: score the most recent window with the current model and emit
//              an alert for every anomalous connection
//
// Exit codes:
//   - 0: run completed, including the empty-window no-op cases
//   - 1: run failed; for predict this includes a partial alert write
//
// Usage:
//   flowsentry [-config path] train
//   flowsentry [-config path] predict

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/flowsentry/flowsentry/internal/artifact"
	"github.com/flowsentry/flowsentry/internal/config"
	"github.com/flowsentry/flowsentry/internal/logging"
	"github.com/flowsentry/flowsentry/internal/ml"
	"github.com/flowsentry/flowsentry/internal/pipeline"
	"github.com/flowsentry/flowsentry/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		return 1
	}
	mode := flag.Arg(0)
	if mode != "train" && mode != "predict" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logging.New(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Store.Path, cfg.Alerts.IndexBase)
	if err != nil {
		log.Error("failed to open telemetry store", zap.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(ctx); err != nil {
		log.Error("telemetry store unreachable", zap.Error(err))
		return 1
	}

	retriever := store.NewRetriever(db, cfg.Store.FetchPageSize, log)
	artifacts := artifact.NewStore(cfg.Artifacts.Dir)

	switch mode {
	case "train":
		return runTrain(ctx, cfg, retriever, artifacts, log)
	default:
		return runPredict(ctx, cfg, retriever, artifacts, db, log)
	}
}

func runTrain(ctx context.Context, cfg *config.Config, retriever *store.Retriever, artifacts *artifact.Store, log *zap.Logger) int {
	trainer := pipeline.NewTrainer(retriever, artifacts, pipeline.TrainerOptions{
		WindowDays: cfg.Training.WindowDays,
		SampleCap:  cfg.Training.SampleCap,
		Forest: ml.ForestOptions{
			NumTrees:      cfg.Forest.NumTrees,
			SubSampleSize: cfg.Forest.SubSampleSize,
			Seed:          cfg.Forest.Seed,
			Workers:       cfg.Forest.Workers,
		},
	}, log)

	result, err := trainer.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyInput) {
			// Nothing to learn from is not an operational failure.
			log.Warn("training skipped", zap.Error(err))
			return 0
		}
		log.Error("training failed", zap.Error(err))
		return 1
	}

	log.Info("model trained",
		zap.String("version", result.Version),
		zap.Int("records", result.Records),
		zap.Float64("threshold", result.Threshold),
	)
	return 0
}

func runPredict(ctx context.Context, cfg *config.Config, retriever *store.Retriever, artifacts *artifact.Store, sink store.AlertSink, log *zap.Logger) int {
	predictor := pipeline.NewPredictor(retriever, artifacts, sink, pipeline.PredictorOptions{
		WindowMinutes: cfg.Prediction.WindowMinutes,
		SampleCap:     cfg.Prediction.SampleCap,
	}, log)

	result, err := predictor.Run(ctx)
	if err != nil {
		if errors.Is(err, artifact.ErrMissing) {
			log.Error("no trained model available, run train first", zap.Error(err))
		} else {
			log.Error("prediction failed", zap.Error(err))
		}
		return 1
	}

	log.Info("prediction complete",
		zap.String("model_version", result.ModelVersion),
		zap.Int("records", result.Records),
		zap.Int("anomalies", result.Anomalies),
		zap.Int("alerts_emitted", result.Emitted),
	)
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config path] <train|predict>\n", os.Args[0])
	flag.PrintDefaults()
}
