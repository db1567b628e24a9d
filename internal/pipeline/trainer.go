package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowsentry/flowsentry/internal/artifact"
	"github.com/flowsentry/flowsentry/internal/features"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/ml"
	"github.com/flowsentry/flowsentry/internal/store"
)

// TrainerOptions configures an offline training run.
type TrainerOptions struct {
	WindowDays int
	SampleCap  int
	Forest     ml.ForestOptions
}

// TrainResult summarizes a completed training run.
type TrainResult struct {
	Version   string
	Records   int
	Threshold float64
}

// Trainer runs the offline path: fetch a historical window, fit the
// scaler/forest pair, and persist it as the new current model. A run that
// fails at any stage leaves the previously persisted model untouched.
type Trainer struct {
	retriever *store.Retriever
	artifacts *artifact.Store
	opts      TrainerOptions
	log       *zap.Logger
	now       func() time.Time

	state State
}

// NewTrainer wires a trainer. A nil logger is replaced with a nop.
func NewTrainer(retriever *store.Retriever, artifacts *artifact.Store, opts TrainerOptions, log *zap.Logger) *Trainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{
		retriever: retriever,
		artifacts: artifacts,
		opts:      opts,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// State returns the current run phase.
func (t *Trainer) State() State { return t.state }

func (t *Trainer) setState(s State) {
	t.state = s
	t.log.Debug("trainer state", zap.String("state", string(s)))
}

func (t *Trainer) fail(err error) error {
	t.setState(StateFailed)
	metrics.RunsTotal.WithLabelValues("train", "failed").Inc()
	return err
}

// Run executes one training run end to end.
func (t *Trainer) Run(ctx context.Context) (*TrainResult, error) {
	runStart := t.now()

	t.setState(StateFetching)
	window := store.LastDays(t.opts.WindowDays, t.now().UTC())
	records, err := t.retriever.Fetch(ctx, window, t.opts.SampleCap)
	if err != nil {
		return nil, t.fail(fmt.Errorf("fetch training window: %w", err))
	}
	metrics.RecordsFetched.WithLabelValues("train").Add(float64(len(records)))
	metrics.StageDuration.WithLabelValues("train", string(StateFetching)).Observe(t.now().Sub(runStart).Seconds())

	if len(records) == 0 {
		t.log.Warn("no records in training window, keeping existing model",
			zap.Time("start", window.Start),
			zap.Time("end", window.End),
		)
		metrics.RunsTotal.WithLabelValues("train", "empty").Inc()
		t.setState(StateFailed)
		return nil, fmt.Errorf("training window [%s, %s): %w", window.Start, window.End, ErrEmptyInput)
	}
	t.log.Info("fetched training data",
		zap.Int("records", len(records)),
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
	)

	t.setState(StatePreprocessing)
	prepStart := t.now()
	matrix := features.SelectForModel(features.ExtractBatch(records))
	scaler, err := ml.FitScaler(matrix.Rows)
	if err != nil {
		return nil, t.fail(fmt.Errorf("fit scaler: %w", err))
	}
	scaled, err := scaler.Transform(matrix.Rows)
	if err != nil {
		return nil, t.fail(fmt.Errorf("standardize training data: %w", err))
	}
	metrics.StageDuration.WithLabelValues("train", string(StatePreprocessing)).Observe(t.now().Sub(prepStart).Seconds())

	t.setState(StateFitting)
	fitStart := t.now()
	forest, err := ml.FitForest(scaled, t.opts.Forest)
	if err != nil {
		return nil, t.fail(fmt.Errorf("fit forest: %w", err))
	}
	metrics.StageDuration.WithLabelValues("train", string(StateFitting)).Observe(t.now().Sub(fitStart).Seconds())
	t.log.Info("fitted isolation forest",
		zap.Int("trees", len(forest.Trees)),
		zap.Int("sub_sample_size", forest.SubSampleSize),
		zap.Float64("threshold", forest.Threshold),
	)

	t.setState(StatePersisting)
	pair := &artifact.Pair{
		Version:   artifact.NewVersion(),
		CreatedAt: t.now().UTC(),
		Columns:   matrix.Columns,
		Scaler:    scaler,
		Forest:    forest,
	}
	if err := t.artifacts.Save(pair); err != nil {
		return nil, t.fail(fmt.Errorf("persist model artifacts: %w", err))
	}
	metrics.ModelThreshold.Set(forest.Threshold)

	t.setState(StateDone)
	metrics.RunsTotal.WithLabelValues("train", "ok").Inc()
	metrics.RunDuration.WithLabelValues("train").Observe(t.now().Sub(runStart).Seconds())
	t.log.Info("training complete",
		zap.String("version", pair.Version),
		zap.Int("records", len(records)),
	)

	return &TrainResult{
		Version:   pair.Version,
		Records:   len(records),
		Threshold: forest.Threshold,
	}, nil
}
