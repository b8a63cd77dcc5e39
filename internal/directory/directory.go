// Package directory resolves participant identifiers to contactable profiles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var ErrNotFound = errors.New("participant not found")

// User is a registered participant as stored by the registry.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	LanguageCode string    `json:"language_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is what the rest of the system needs to address a participant.
type Profile struct {
	ID          string
	DisplayName string
	// Handle is the public username, empty when the participant has none.
	Handle string
}

var (
	suspiciousName = regexp.MustCompile(`(?i)undefined|null|[<>]`)
	spaces         = regexp.MustCompile(`\s+`)
)

const fallbackName = "User"

// Profile derives the display profile for u.
func (u *User) Profile() Profile {
	name := strings.TrimSpace(strings.Join([]string{u.FirstName, u.LastName}, " "))
	name = spaces.ReplaceAllString(name, " ")
	if len([]rune(name)) < 2 || suspiciousName.MatchString(name) {
		name = fallbackName
	}
	return Profile{ID: u.ID, DisplayName: name, Handle: u.Username}
}

// Source is the registry the directory reads from.
type Source interface {
	UserByID(ctx context.Context, id string) (*User, error)
}

// Cache is a Directory Lookup backed by a Source with a TTL cache in front.
// Misses are not cached so a participant who registers later is found on
// the next lookup.
type Cache struct {
	src   Source
	cache *gocache.Cache
}

func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:   src,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *Cache) Lookup(ctx context.Context, id string) (*Profile, error) {
	if v, ok := c.cache.Get(id); ok {
		p := v.(Profile)
		return &p, nil
	}
	u, err := c.src.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup participant %s: %w", id, err)
	}
	p := u.Profile()
	c.cache.SetDefault(id, p)
	return &p, nil
}

// Invalidate drops a cached profile, e.g. after the participant re-registers.
func (c *Cache) Invalidate(id string) {
	c.cache.Delete(id)
}
