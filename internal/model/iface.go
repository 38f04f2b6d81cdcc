package model

import "context"

// EventsFetcher executes a composed query against the execution engine.
type EventsFetcher interface {
	Fetch(ctx context.Context, query, format string) (*QueryResponse, error)
}

// TimestampResolver infers the default timestamp field of an index.
type TimestampResolver interface {
	DefaultTimestamp(ctx context.Context, index string) (*TimestampInfo, error)
}

// AnomalyDetector scores a categorized time series.
type AnomalyDetector interface {
	PredictAnomalies(ctx context.Context, req AnomalyRequest) (*AnomalyResponse, error)
}

// AsyncJobService runs queries against non-local data sources.
type AsyncJobService interface {
	Submit(ctx context.Context, req JobRequest) (*JobHandle, error)
	Status(ctx context.Context, queryID string) (*JobStatus, error)
	Cancel(ctx context.Context, queryID string) error
}

// HistoryRecorder persists executed searches.
type HistoryRecorder interface {
	RecordSearch(rec SearchRecord) error
}

// HistoryReader lists executed searches, newest first. An empty tabID lists all tabs.
type HistoryReader interface {
	RecentSearches(limit int, tabID string) ([]SearchRecord, error)
}

// ExplorerAPI is the unified contract for read/write surfaces (HTTP and socket RPC).
type ExplorerAPI interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
	CreateTab(ctx context.Context) (string, error)
	CloseTab(ctx context.Context, tabID string) error
	Search(ctx context.Context, tabID string, req SearchRequest) (*SearchOutcome, error)
	Patterns(ctx context.Context, tabID string) (*PatternTable, error)
	StartLive(ctx context.Context, tabID string, req LiveRequest) error
	StopLive(ctx context.Context, tabID string) error
	TabState(ctx context.Context, tabID string) (*TabSnapshot, error)
	History(ctx context.Context, tabID string, limit int) ([]SearchRecord, error)
}
