package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowsentry/flowsentry/internal/artifact"
	"github.com/flowsentry/flowsentry/internal/features"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/model"
	"github.com/flowsentry/flowsentry/internal/store"
)

// PredictorOptions configures a scoring run.
type PredictorOptions struct {
	WindowMinutes int
	SampleCap     int
}

// PredictResult summarizes a completed scoring run.
type PredictResult struct {
	ModelVersion string
	Records      int
	Anomalies    int
	Emitted      int
	Failed       int
}

// Predictor runs the online path: fetch the recent window, score it with the
// current model, and emit an alert for every anomalous record. An empty
// window is a successful no-op; a missing model is fatal.
type Predictor struct {
	retriever *store.Retriever
	artifacts *artifact.Store
	sink      store.AlertSink
	opts      PredictorOptions
	log       *zap.Logger
	now       func() time.Time

	state State
}

// NewPredictor wires a predictor. A nil logger is replaced with a nop.
func NewPredictor(retriever *store.Retriever, artifacts *artifact.Store, sink store.AlertSink, opts PredictorOptions, log *zap.Logger) *Predictor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Predictor{
		retriever: retriever,
		artifacts: artifacts,
		sink:      sink,
		opts:      opts,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// State returns the current run phase.
func (p *Predictor) State() State { return p.state }

func (p *Predictor) setState(s State) {
	p.state = s
	p.log.Debug("predictor state", zap.String("state", string(s)))
}

func (p *Predictor) fail(err error) error {
	p.setState(StateFailed)
	metrics.RunsTotal.WithLabelValues("predict", "failed").Inc()
	return err
}

// Run executes one scoring run end to end.
func (p *Predictor) Run(ctx context.Context) (*PredictResult, error) {
	runStart := p.now()

	p.setState(StateFetching)
	window := store.LastMinutes(p.opts.WindowMinutes, p.now().UTC())
	records, err := p.retriever.Fetch(ctx, window, p.opts.SampleCap)
	if err != nil {
		return nil, p.fail(fmt.Errorf("fetch prediction window: %w", err))
	}
	metrics.RecordsFetched.WithLabelValues("predict").Add(float64(len(records)))
	metrics.StageDuration.WithLabelValues("predict", string(StateFetching)).Observe(p.now().Sub(runStart).Seconds())

	if len(records) == 0 {
		p.log.Info("no records in prediction window",
			zap.Time("start", window.Start),
			zap.Time("end", window.End),
		)
		p.setState(StateDone)
		metrics.RunsTotal.WithLabelValues("predict", "empty").Inc()
		return &PredictResult{}, nil
	}

	p.setState(StatePreprocessing)
	prepStart := p.now()
	matrix := features.SelectForModel(features.ExtractBatch(records))
	metrics.StageDuration.WithLabelValues("predict", string(StatePreprocessing)).Observe(p.now().Sub(prepStart).Seconds())

	// The model is part of the scoring stage: a stale or missing artifact is
	// a scoring failure, not a fetch or preprocessing one.
	p.setState(StateScoring)
	scoreStart := p.now()
	pair, err := p.artifacts.Load()
	if err != nil {
		return nil, p.fail(fmt.Errorf("load model artifacts: %w", err))
	}
	if len(pair.Columns) != features.NumFeatures || pair.Scaler.NumFeatures() != features.NumFeatures {
		return nil, p.fail(fmt.Errorf("model version %s expects %d features, pipeline produces %d",
			pair.Version, pair.Scaler.NumFeatures(), features.NumFeatures))
	}
	scaled, err := pair.Scaler.Transform(matrix.Rows)
	if err != nil {
		return nil, p.fail(fmt.Errorf("standardize prediction data: %w", err))
	}
	decisions := pair.Forest.DecisionBatch(scaled)
	var alerts []model.AlertRecord
	for i, d := range decisions {
		if d < 0 {
			alerts = append(alerts, buildAlert(records[i], d, p.now().UTC()))
		}
	}
	metrics.StageDuration.WithLabelValues("predict", string(StateScoring)).Observe(p.now().Sub(scoreStart).Seconds())
	metrics.AnomalyRatio.Set(float64(len(alerts)) / float64(len(records)))
	p.log.Info("scored prediction window",
		zap.String("model_version", pair.Version),
		zap.Int("records", len(records)),
		zap.Int("anomalies", len(alerts)),
	)

	result := &PredictResult{
		ModelVersion: pair.Version,
		Records:      len(records),
		Anomalies:    len(alerts),
	}

	if len(alerts) == 0 {
		p.setState(StateDone)
		metrics.RunsTotal.WithLabelValues("predict", "ok").Inc()
		metrics.RunDuration.WithLabelValues("predict").Observe(p.now().Sub(runStart).Seconds())
		return result, nil
	}

	p.setState(StateAlerting)
	if err := p.sink.EnsureSchema(ctx); err != nil {
		return nil, p.fail(fmt.Errorf("provision alert store: %w", err))
	}
	failed, err := p.sink.Emit(ctx, alerts)
	if err != nil {
		return nil, p.fail(fmt.Errorf("emit alerts: %w", err))
	}
	result.Failed = failed
	result.Emitted = len(alerts) - failed
	metrics.AlertsEmitted.Add(float64(result.Emitted))
	metrics.AlertWriteFailures.Add(float64(failed))

	if failed > 0 {
		p.setState(StateFailed)
		metrics.RunsTotal.WithLabelValues("predict", "failed").Inc()
		return result, &PartialWriteError{Failed: failed, Total: len(alerts)}
	}

	p.setState(StateDone)
	metrics.RunsTotal.WithLabelValues("predict", "ok").Inc()
	metrics.RunDuration.WithLabelValues("predict").Observe(p.now().Sub(runStart).Seconds())
	p.log.Info("alerts emitted", zap.Int("count", result.Emitted))
	return result, nil
}

// buildAlert denormalizes the anomalous record into a self-contained alert.
func buildAlert(rec model.ConnectionRecord, decision float64, emittedAt time.Time) model.AlertRecord {
	return model.AlertRecord{
		Timestamp:    emittedAt,
		AlertType:    model.AlertTypeConnectionAnomaly,
		AnomalyScore: decision,
		Description:  fmt.Sprintf("Anomalous network connection detected for UID: %s", rec.UID),

		SrcIP:     rec.SrcIP,
		SrcPort:   rec.SrcPort,
		DstIP:     rec.DstIP,
		DstPort:   rec.DstPort,
		Proto:     rec.Proto,
		Service:   rec.Service,
		Duration:  rec.Duration,
		OrigBytes: rec.OrigBytes,
		RespBytes: rec.RespBytes,

		OriginalEventUID:       rec.UID,
		OriginalEventTimestamp: rec.Timestamp,
		OriginalEvent:          rec.Raw,
	}
}
