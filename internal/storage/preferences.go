package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxRecentSearches bounds the recentSearches list
const MaxRecentSearches = 10

// UserProfile is the cached identity of the signed-in user
type UserProfile struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	DepartmentID string `json:"departmentId,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Preferences reads and writes the small per-user values kept next to the cart
type Preferences struct {
	store Store
}

// NewPreferences wraps a Store
func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// RecentSearches returns the stored searches, most recent first. A corrupt
// value reads as empty.
func (p *Preferences) RecentSearches(ctx context.Context) ([]string, error) {
	var searches []string

	ok, err := p.loadJSON(ctx, KeyRecentSearches, &searches)
	if err != nil || !ok {
		return nil, err
	}

	return searches, nil
}

// AddRecentSearch moves term to the front, dropping duplicates and the oldest
// entries beyond MaxRecentSearches
func (p *Preferences) AddRecentSearch(ctx context.Context, term string) ([]string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return p.RecentSearches(ctx)
	}

	current, err := p.RecentSearches(ctx)
	if err != nil {
		return nil, err
	}

	next := []string{term}
	for _, s := range current {
		if !strings.EqualFold(s, term) && len(next) < MaxRecentSearches {
			next = append(next, s)
		}
	}

	if err := p.saveJSON(ctx, KeyRecentSearches, next); err != nil {
		return nil, err
	}

	return next, nil
}

// PreferredLanguage returns the stored language or fallback
func (p *Preferences) PreferredLanguage(ctx context.Context, fallback string) (string, error) {
	var lang string

	ok, err := p.loadJSON(ctx, KeyPreferredLanguage, &lang)
	if err != nil {
		return "", err
	}
	if !ok || lang == "" {
		return fallback, nil
	}

	return lang, nil
}

// SetPreferredLanguage stores lang
func (p *Preferences) SetPreferredLanguage(ctx context.Context, lang string) error {
	return p.saveJSON(ctx, KeyPreferredLanguage, strings.TrimSpace(lang))
}

// User returns the cached profile, nil when none is stored
func (p *Preferences) User(ctx context.Context) (*UserProfile, error) {
	var u UserProfile

	ok, err := p.loadJSON(ctx, KeyUser, &u)
	if err != nil || !ok || u.ID == "" {
		return nil, err
	}

	return &u, nil
}

// SetUser caches the profile
func (p *Preferences) SetUser(ctx context.Context, u UserProfile) error {
	return p.saveJSON(ctx, KeyUser, u)
}

// loadJSON reports ok=false for missing or undecodable values
func (p *Preferences) loadJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, found, err := p.store.Load(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, nil
	}

	return true, nil
}

func (p *Preferences) saveJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	return p.store.Save(ctx, key, data)
}
