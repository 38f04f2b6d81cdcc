// Package anomaly overlays per-pattern anomaly counts onto a pattern table
// using an external anomaly-detection service.
package anomaly

import (
	"context"

	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/metrics"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/patterns"
	"go.uber.org/zap"
)

// Field names used in the reshaped series.
const (
	TimeField     = "timestamp"
	CategoryField = "category"
)

// DefaultParameters returns the model parameters sent with every prediction.
func DefaultParameters() model.AnomalyParameters {
	return model.AnomalyParameters{
		NumberOfTrees: 10,
		ShingleSize:   8,
		SampleSize:    256,
		OutputAfter:   32,
		TimeDecay:     0.0001,
		AnomalyRate:   0.005,
		TimeField:     TimeField,
		CategoryField: CategoryField,
		DateFormat:    "yyyy-MM-dd HH:mm:ss",
		TimeZone:      "UTC",
	}
}

// Reshape converts time-series rows into {timestamp, category, value} points.
func Reshape(series []patterns.SeriesRow) []model.SeriesPoint {
	if len(series) == 0 {
		return nil
	}
	points := make([]model.SeriesPoint, 0, len(series))
	for _, row := range series {
		points = append(points, model.SeriesPoint{
			Timestamp: row.Timestamp,
			Category:  row.Pattern,
			Value:     row.Count,
		})
	}
	return points
}

// Overlay calls the anomaly detector and merges its verdicts into pattern rows.
type Overlay struct {
	detector model.AnomalyDetector
	params   model.AnomalyParameters
	logger   *zap.SugaredLogger
}

// NewOverlay creates an Overlay. Zero-valued numeric parameters fall back
// to DefaultParameters. A nil detector leaves every result unavailable.
func NewOverlay(detector model.AnomalyDetector, params model.AnomalyParameters, logger *zap.SugaredLogger) *Overlay {
	return &Overlay{
		detector: detector,
		params:   withDefaults(params),
		logger:   logging.OrNop(logger),
	}
}

// Parameters returns the effective model parameters.
func (o *Overlay) Parameters() model.AnomalyParameters {
	return o.params
}

// Detect returns flagged-point counts per category. available is false when
// the series is empty or the service failed; the service is not called for
// an empty series.
func (o *Overlay) Detect(ctx context.Context, points []model.SeriesPoint) (counts map[string]int, available bool) {
	if len(points) == 0 || o.detector == nil {
		metrics.AnomalyDetections.WithLabelValues("skipped").Inc()
		return nil, false
	}

	resp, err := o.detector.PredictAnomalies(ctx, model.AnomalyRequest{
		Data:       points,
		Parameters: o.params,
	})
	if err != nil {
		o.logger.Warnw("anomaly: prediction failed", "error", err)
		metrics.AnomalyDetections.WithLabelValues("unavailable").Inc()
		return nil, false
	}
	if resp == nil || resp.Anomalies == nil {
		o.logger.Warnw("anomaly: response has no anomalies field")
		metrics.AnomalyDetections.WithLabelValues("unavailable").Inc()
		return nil, false
	}

	counts = make(map[string]int)
	for _, a := range resp.Anomalies {
		if a.IsAnomaly {
			counts[a.Category]++
		}
	}
	metrics.AnomalyDetections.WithLabelValues("available").Inc()
	return counts, true
}

// Apply reshapes a mining result's series, runs detection and returns the
// merged pattern table.
func (o *Overlay) Apply(ctx context.Context, res *patterns.Result) *model.PatternTable {
	if res == nil {
		return &model.PatternTable{}
	}
	counts, available := o.Detect(ctx, Reshape(res.Series))
	return &model.PatternTable{
		Rows:             Merge(res.Rows, counts, available),
		AnomalyAvailable: available,
	}
}

// Merge returns a copy of rows with AnomalyCount set from counts when
// available (missing categories count as zero) and nil otherwise.
func Merge(rows []model.PatternRow, counts map[string]int, available bool) []model.PatternRow {
	merged := make([]model.PatternRow, len(rows))
	for i, row := range rows {
		row.AnomalyCount = nil
		if available {
			n := counts[row.Pattern]
			row.AnomalyCount = &n
		}
		merged[i] = row
	}
	return merged
}

func withDefaults(p model.AnomalyParameters) model.AnomalyParameters {
	def := DefaultParameters()
	if p.NumberOfTrees <= 0 {
		p.NumberOfTrees = def.NumberOfTrees
	}
	if p.ShingleSize <= 0 {
		p.ShingleSize = def.ShingleSize
	}
	if p.SampleSize <= 0 {
		p.SampleSize = def.SampleSize
	}
	if p.OutputAfter <= 0 {
		p.OutputAfter = def.OutputAfter
	}
	if p.TimeDecay <= 0 {
		p.TimeDecay = def.TimeDecay
	}
	if p.AnomalyRate <= 0 {
		p.AnomalyRate = def.AnomalyRate
	}
	if p.TimeField == "" {
		p.TimeField = def.TimeField
	}
	if p.CategoryField == "" {
		p.CategoryField = def.CategoryField
	}
	if p.DateFormat == "" {
		p.DateFormat = def.DateFormat
	}
	if p.TimeZone == "" {
		p.TimeZone = def.TimeZone
	}
	return p
}
