package knowledge

import (
	"context"
	"errors"
)

var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrInvalidArguments = errors.New("invalid function arguments")
)

// Article is one knowledge-base entry.
type Article struct {
	ID       string
	Title    string
	Category string
	Content  string
	URL      string
}

// SearchResult is an article shaped for the speech model.
type SearchResult struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// Store searches knowledge-base articles.
type Store interface {
	SearchArticles(ctx context.Context, query string, limit int) ([]Article, error)
	Mode() string
	Close() error
}
