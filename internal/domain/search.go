package domain

import "context"

// SearchResult is a single extracted search-engine hit.
type SearchResult struct {
	Title   string
	Snippet string
	URL     string
}

// SearchKind discriminates SearchOutcome variants.
type SearchKind int

const (
	SearchOK SearchKind = iota
	SearchNoResults
	SearchWarmingUp
	SearchTimeout
	SearchFailed
)

func (k SearchKind) String() string {
	switch k {
	case SearchOK:
		return "ok"
	case SearchNoResults:
		return "no_results"
	case SearchWarmingUp:
		return "warming_up"
	case SearchTimeout:
		return "timeout"
	case SearchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SearchOutcome is the typed result of a backend query. Results is non-empty
// only for SearchOK.
type SearchOutcome struct {
	Kind    SearchKind
	Results []SearchResult
	Err     error
}

// BackendState is the lifecycle state of the search backend.
type BackendState int

const (
	BackendUninitialized BackendState = iota
	BackendReady
	BackendFailed
)

func (s BackendState) String() string {
	switch s {
	case BackendUninitialized:
		return "uninitialized"
	case BackendReady:
		return "ready"
	case BackendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Searcher executes web searches and owns the lifecycle of whatever engine
// backs them.
type Searcher interface {
	Query(ctx context.Context, query string) SearchOutcome
	// Restart tears the engine down and schedules a fresh initialization
	// without waiting for it to complete.
	Restart(ctx context.Context) error
}
