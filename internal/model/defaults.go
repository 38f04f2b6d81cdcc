package model

import "time"

// Shared defaults used by both the server and CLI binaries.
const (
	DefaultLiveInterval    = 5 * time.Second
	DefaultPollInterval    = 1 * time.Second
	DefaultPollMaxInterval = 32 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSpanUnit        = "m"
	DefaultResponseFormat  = "jdbc"

	// DefaultPatternRegex is the engine's default patterns filter; clauses
	// omit pattern= when the regex matches it.
	DefaultPatternRegex = `[a-zA-Z\d]`

	// PatternsField is the column name the patterns command writes.
	PatternsField = "patterns_field"

	// QueryDateFormat is the absolute timestamp layout embedded in composed queries.
	QueryDateFormat = "2006-01-02 15:04:05.000000"
)
