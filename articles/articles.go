// Package articles reads the published lines of the classics corpus.
package articles

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Article struct {
	ID        string `json:"id"`
	Line      string `json:"line"`
	Time      string `json:"time"`
	Contrib   string `json:"contrib"`
	Unsure    bool   `json:"unsure"`
	Sensitive bool   `json:"sensitive"`
	Hidden    bool   `json:"hidden"`
}

// JSONGetter is satisfied by *sessions.Requester.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) error
}

type Service struct {
	getter JSONGetter
	url    string
	logger zerolog.Logger
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService reads articles from url, normally backend.Client.Endpoint(backend.PathRead).
func NewService(getter JSONGetter, url string, options ...Option) *Service {
	s := &Service{getter: getter, url: url, logger: log.Logger}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Fetch returns every article visible to the current session. A null body yields an
// empty slice.
func (s *Service) Fetch(ctx context.Context) ([]Article, error) {
	var articles []Article
	if err := s.getter.GetJSON(ctx, s.url, &articles); err != nil {
		s.logger.Error().Err(err).Msg("[Service Fetch] failed to fetch articles")
		return nil, err
	}
	if articles == nil {
		articles = []Article{}
	}
	return articles, nil
}

// Store holds the last loaded article list. It starts out loading.
type Store struct {
	service *Service

	lock     sync.RWMutex
	loading  bool
	articles []Article
}

func NewStore(service *Service) *Store {
	return &Store{service: service, loading: true, articles: []Article{}}
}

// Load fetches the articles. On error the list is emptied. Loading is false afterwards
// either way.
func (s *Store) Load(ctx context.Context) error {
	articles, err := s.service.Fetch(ctx)
	if err != nil {
		articles = []Article{}
	}

	s.lock.Lock()
	s.articles = articles
	s.loading = false
	s.lock.Unlock()
	return err
}

func (s *Store) Loading() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.loading
}

func (s *Store) Articles() []Article {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]Article, len(s.articles))
	copy(out, s.articles)
	return out
}

// Visible returns the articles that are not hidden.
func (s *Store) Visible() []Article {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]Article, 0, len(s.articles))
	for _, a := range s.articles {
		if !a.Hidden {
			out = append(out, a)
		}
	}
	return out
}
