package storage

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"mediabin/internal/models"
)

// DefaultLatestLimit is the number of records ListLatestMedia returns when the
// caller does not request an explicit limit.
const DefaultLatestLimit = 7

var searchFolder = cases.Fold()

// ListMedia returns every media record ordered by creation time.
func (s *Storage) ListMedia() []models.Media {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortMediaOldestFirst(s.collectMediaLocked(nil))
}

// ListLatestMedia returns the newest records first, capped at limit. A
// non-positive limit falls back to DefaultLatestLimit.
func (s *Storage) ListLatestMedia(limit int) []models.Media {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	media := s.collectMediaLocked(nil)
	sort.Slice(media, func(i, j int) bool {
		if media[i].CreatedAt.Equal(media[j].CreatedAt) {
			return media[i].ID < media[j].ID
		}
		return media[i].CreatedAt.After(media[j].CreatedAt)
	})
	if len(media) > limit {
		media = media[:limit]
	}
	return media
}

// SearchMedia returns records whose title contains the query, compared under
// Unicode case folding. A blank query is rejected and an exhausted search is
// reported as ErrNoMatches rather than an empty result.
func (s *Storage) SearchMedia(query string) ([]models.Media, error) {
	folded := searchFolder.String(strings.TrimSpace(query))
	if folded == "" {
		return nil, validationErrorf("search query is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.collectMediaLocked(func(media models.Media) bool {
		return strings.Contains(searchFolder.String(media.Title), folded)
	})
	if len(matches) == 0 {
		return nil, ErrNoMatches
	}
	return sortMediaOldestFirst(matches), nil
}

// ListMediaByOwner returns the owner's records oldest first. An unknown owner
// is an error; an owner with no media yields an empty slice.
func (s *Storage) ListMediaByOwner(ownerID string) ([]models.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Users[ownerID]; !ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
	}

	media := s.collectMediaLocked(func(media models.Media) bool {
		return media.OwnerID == ownerID
	})
	return sortMediaOldestFirst(media), nil
}

func (s *Storage) collectMediaLocked(keep func(models.Media) bool) []models.Media {
	media := make([]models.Media, 0, len(s.data.Media))
	for _, record := range s.data.Media {
		if keep != nil && !keep(record) {
			continue
		}
		media = append(media, record)
	}
	return media
}

func sortMediaOldestFirst(media []models.Media) []models.Media {
	sort.Slice(media, func(i, j int) bool {
		if media[i].CreatedAt.Equal(media[j].CreatedAt) {
			return media[i].ID < media[j].ID
		}
		return media[i].CreatedAt.Before(media[j].CreatedAt)
	})
	return media
}
