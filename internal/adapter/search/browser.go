// Package search implements domain.Searcher on top of a headless browser
// that scrapes a public search engine's results page.
package search

import (
	"context"

	"assistbot/internal/domain"
	"assistbot/internal/infra/config"
)

// Browser is a launched browser instance able to run isolated search
// queries. Implementations must allow concurrent Search calls.
type Browser interface {
	// Search opens a fresh browsing context, loads the results page for
	// query and returns up to limit extracted entries. Timeouts are
	// reported as errors matching domain.ErrTimeout.
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
	Close() error
}

// Launcher starts a new Browser. ctx bounds the launch only; the returned
// browser outlives it.
type Launcher func(ctx context.Context) (Browser, error)

// Selectors locate result entries and their fields in the results page.
type Selectors struct {
	Result  string
	Title   string
	Snippet string
	Link    string
}

// SelectorsFromConfig returns the CSS selectors configured in cfg.
func SelectorsFromConfig(cfg config.SearchConfig) Selectors {
	return Selectors{
		Result:  cfg.ResultSelector,
		Title:   cfg.TitleSelector,
		Snippet: cfg.SnippetSelector,
		Link:    cfg.LinkSelector,
	}
}
