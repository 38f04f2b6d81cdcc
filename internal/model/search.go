package model

import "time"

// SearchStatus is the terminal state of one search attempt.
type SearchStatus string

const (
	StatusSettled     SearchStatus = "settled"
	StatusNoQuery     SearchStatus = "no_query"
	StatusMalformed   SearchStatus = "malformed"
	StatusNoTimestamp SearchStatus = "no_timestamp"
	StatusError       SearchStatus = "error"
)

// ComposeRequest carries the inputs of a stateless compose call.
type ComposeRequest struct {
	Query           string `json:"query"`
	Start           string `json:"start"`
	End             string `json:"end"`
	TimestampField  string `json:"timestampField"`
	Live            bool   `json:"live"`
	BaseQuery       string `json:"baseQuery"`
	WhereClause     string `json:"whereClause"`
	PatternField    string `json:"patternField"`
	PatternRegex    string `json:"patternRegex"`
	FilteredPattern string `json:"filteredPattern"`
}

// SearchRequest is one search submission for a tab. Empty fields fall back
// to the tab's current QueryState. With ResetFilters set, BaseQuery,
// WhereClause, PatternRegex and FilteredPattern replace the tab's values
// as given, so an empty value clears them.
type SearchRequest struct {
	Query           string        `json:"query"`
	Start           string        `json:"start"`
	End             string        `json:"end"`
	TimestampField  string        `json:"timestampField"`
	BaseQuery       string        `json:"baseQuery"`
	WhereClause     string        `json:"whereClause"`
	PatternField    string        `json:"patternField"`
	PatternRegex    string        `json:"patternRegex"`
	FilteredPattern string        `json:"filteredPattern"`
	ResetFilters    bool          `json:"resetFilters"`
	SpanUnit        string        `json:"spanUnit"`
	Live            bool          `json:"live"`
	LiveName        string        `json:"liveName"`
	LiveInterval    time.Duration `json:"liveInterval"`
}

// LiveRequest starts a live tail on a tab using its current query state.
type LiveRequest struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
}

// PatternTable is the assembled pattern result of a search.
type PatternTable struct {
	Rows             []PatternRow `json:"rows"`
	AnomalyAvailable bool         `json:"anomalyAvailable"`
}

// SearchOutcome is the result of one search attempt or live-tail iteration.
type SearchOutcome struct {
	TabID          string         `json:"tabId"`
	Status         SearchStatus   `json:"status"`
	FinalQuery     string         `json:"finalQuery"`
	TimestampField string         `json:"timestampField"`
	Events         *QueryResponse `json:"events,omitempty"`
	Patterns       *PatternTable  `json:"patterns,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	Error          string         `json:"error,omitempty"`
	Live           bool           `json:"live"`
	Iteration      int            `json:"iteration"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
}

// TabSnapshot is a read-only view of a tab.
type TabSnapshot struct {
	ID         string        `json:"id"`
	State      QueryState    `json:"state"`
	Phase      string        `json:"phase"`
	Live       bool          `json:"live"`
	LiveName   string        `json:"liveName,omitempty"`
	LastStatus SearchStatus  `json:"lastStatus,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
	Patterns   *PatternTable `json:"patterns,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	LastSearch time.Time     `json:"lastSearch,omitempty"`
}
