package sitesync

import (
	"sync"

	"github.com/uptimewatcher/backend/internal/models"
)

// SiteState is the container the actions read and replace the site collection through.
type SiteState interface {
	GetSites() []*models.Site
	SetSites(sites []*models.Site)
}

// Store is the in-memory SiteState. The collection is replaced wholesale on
// every change; readers must treat returned slices as immutable.
type Store struct {
	mu          sync.RWMutex
	sites       []*models.Site
	subscribers map[int]func([]*models.Site)
	nextSubID   int
}

func NewStore(initial []*models.Site) *Store {
	return &Store{
		sites:       initial,
		subscribers: make(map[int]func([]*models.Site)),
	}
}

func (s *Store) GetSites() []*models.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sites
}

// SetSites replaces the collection and notifies subscribers outside the lock.
func (s *Store) SetSites(sites []*models.Site) {
	s.mu.Lock()
	s.sites = sites
	subs := make([]func([]*models.Site), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(sites)
	}
}

// Subscribe registers fn for every SetSites call and returns its cancel func.
func (s *Store) Subscribe(fn func([]*models.Site)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Site returns the site with the given identifier.
func (s *Store) Site(identifier string) (*models.Site, bool) {
	site, _ := models.FindSite(s.GetSites(), identifier)
	return site, site != nil
}
