package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore serves articles from process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	articles []Article
}

func NewInMemoryStore(articles ...Article) *InMemoryStore {
	s := &InMemoryStore{}
	for _, a := range articles {
		s.Add(a)
	}
	return s
}

// NewSeededInMemoryStore returns a store holding one article per catalogue service.
func NewSeededInMemoryStore() *InMemoryStore {
	return NewInMemoryStore(SeedArticles()...)
}

// SeedArticles derives articles from the service catalogue. IDs are stable
// across restarts so resource links do not move.
func SeedArticles() []Article {
	out := make([]Article, 0, len(services))
	for _, svc := range services {
		out = append(out, Article{
			ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cyberguardng.ca/services/"+svc.Key)).String(),
			Title:    svc.Title,
			Category: "Services",
			Content:  svc.Description + " Timeline: " + svc.Timeline + ". Contact: " + svc.Contact + ".",
		})
	}
	return out
}

func (s *InMemoryStore) Add(a Article) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = append(s.articles, a)
}

func (s *InMemoryStore) SearchArticles(_ context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	needle := strings.ToLower(query)

	type ranked struct {
		article Article
		rank    int
	}
	s.mu.RLock()
	matches := make([]ranked, 0, len(s.articles))
	for _, a := range s.articles {
		switch {
		case strings.Contains(strings.ToLower(a.Title), needle):
			matches = append(matches, ranked{article: a, rank: 1})
		case strings.Contains(strings.ToLower(a.Category), needle):
			matches = append(matches, ranked{article: a, rank: 2})
		case strings.Contains(strings.ToLower(a.Content), needle):
			matches = append(matches, ranked{article: a, rank: 3})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Article, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.article)
	}
	return out, nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
