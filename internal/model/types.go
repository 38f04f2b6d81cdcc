package model

import "time"

// QueryState is the per-tab search state. FinalQuery is derived from the
// other fields and is only written by the orchestrator.
type QueryState struct {
	RawQuery             string    `json:"rawQuery"`
	FinalQuery           string    `json:"finalQuery"`
	BaseQuery            string    `json:"baseQuery,omitempty"`
	WhereClause          string    `json:"whereClause,omitempty"`
	SelectedTimestamp    string    `json:"selectedTimestamp"`
	SelectedPatternField string    `json:"selectedPatternField"`
	PatternRegex         string    `json:"patternRegex"`
	FilteredPattern      string    `json:"filteredPattern"`
	SelectedDateRange    [2]string `json:"selectedDateRange"`
}

// TimeRange holds a pair of absolute or relative time expressions.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SchemaField describes one column of a query response.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResponse is the tabular result returned by the execution engine.
type QueryResponse struct {
	Schema   []SchemaField `json:"schema"`
	DataRows [][]any       `json:"datarows"`
	Total    int           `json:"total,omitempty"`
	Size     int           `json:"size,omitempty"`
}

// ColumnIndex returns the position of the named column, or -1.
func (r *QueryResponse) ColumnIndex(name string) int {
	if r == nil {
		return -1
	}
	for i, f := range r.Schema {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// PatternRow is one entry of the pattern table. AnomalyCount is nil when
// anomaly detection was unavailable for the search that produced the row.
type PatternRow struct {
	Pattern      string `json:"pattern"`
	Count        int64  `json:"count"`
	SampleLog    string `json:"sampleLog"`
	AnomalyCount *int   `json:"anomalyCount"`
}

// SeriesPoint is one bucket of a per-pattern time series.
type SeriesPoint struct {
	Timestamp string  `json:"timestamp"`
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
}

// AnomalyParameters are the model parameters sent with every prediction.
type AnomalyParameters struct {
	NumberOfTrees int     `json:"number_of_trees" mapstructure:"number-of-trees"`
	ShingleSize   int     `json:"shingle_size" mapstructure:"shingle-size"`
	SampleSize    int     `json:"sample_size" mapstructure:"sample-size"`
	OutputAfter   int     `json:"output_after" mapstructure:"output-after"`
	TimeDecay     float64 `json:"time_decay" mapstructure:"time-decay"`
	AnomalyRate   float64 `json:"anomaly_rate" mapstructure:"anomaly-rate"`
	TimeField     string  `json:"time_field" mapstructure:"-"`
	CategoryField string  `json:"category_field" mapstructure:"-"`
	DateFormat    string  `json:"date_format" mapstructure:"-"`
	TimeZone      string  `json:"time_zone" mapstructure:"-"`
}

// AnomalyRequest is the payload for the anomaly-detection service.
type AnomalyRequest struct {
	Data       []SeriesPoint     `json:"data"`
	Parameters AnomalyParameters `json:"parameters"`
}

// AnomalyResult is one scored point returned by the anomaly-detection service.
type AnomalyResult struct {
	Category  string  `json:"category"`
	Timestamp string  `json:"timestamp,omitempty"`
	IsAnomaly bool    `json:"isAnomaly"`
	Score     float64 `json:"score,omitempty"`
	Grade     float64 `json:"anomalyGrade,omitempty"`
}

// AnomalyResponse is the anomaly-detection service reply. A nil Anomalies
// slice means the service produced no result.
type AnomalyResponse struct {
	Anomalies []AnomalyResult `json:"anomalies,omitempty"`
}

// TimestampInfo is the reply of the default-timestamp inference service.
type TimestampInfo struct {
	DefaultTimestamp  string `json:"default_timestamp"`
	HasSchemaConflict bool   `json:"hasSchemaConflict"`
	Message           string `json:"message"`
}

// Async job states reported by the job service.
const (
	JobStatusWaiting   = "WAITING"
	JobStatusRunning   = "RUNNING"
	JobStatusSuccess   = "SUCCESS"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
)

// JobRequest submits a query to a non-local data source.
type JobRequest struct {
	Datasource string `json:"datasource"`
	Lang       string `json:"lang"`
	Query      string `json:"query"`
	SessionID  string `json:"sessionId,omitempty"`
}

// JobHandle identifies a submitted async query.
type JobHandle struct {
	QueryID   string `json:"queryId"`
	SessionID string `json:"sessionId,omitempty"`
}

// JobStatus is the polled state of an async query.
type JobStatus struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Schema   []SchemaField `json:"schema,omitempty"`
	DataRows [][]any       `json:"datarows,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s *JobStatus) Done() bool {
	switch s.Status {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SearchRecord is one executed search kept in the history store.
type SearchRecord struct {
	ID           int64     `json:"id"`
	TabID        string    `json:"tabId"`
	RawQuery     string    `json:"rawQuery"`
	FinalQuery   string    `json:"finalQuery"`
	Status       string    `json:"status"`
	Live         bool      `json:"live"`
	RowCount     int       `json:"rowCount"`
	PatternCount int       `json:"patternCount"`
	Duration     int64     `json:"durationMs"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
