/*
catalog.go - Append-only registry of schedule versions

PURPOSE:
  Resolves schedule versions for the rest of the system. The catalog is
  append-only: versions can be added and the active pointer can move
  forward, but a registered version can never be removed or changed.
  Grant lots reference the version they were generated under, so a
  missing version for a materialized lot is administrative data loss,
  not a recoverable condition - callers must treat NotFoundError for a
  referenced version as fatal and alert, never substitute defaults.

RESOLUTION:
  Resolve("")        -> the active schedule
  Resolve("2023.2")  -> that exact historical version

SEE ALSO:
  - schedule.go: GrantSchedule value object
  - source.go: Loading catalogs from YAML/JSON
*/
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a referenced schedule version does not
	// exist. For already-materialized grant lots this must never happen;
	// treat it as fatal rather than defaulting.
	ErrNotFound = errors.New("schedule version not found")

	// ErrVersionConflict is returned when registering a version that
	// already exists with different content. Versions are immutable.
	ErrVersionConflict = errors.New("schedule version already registered with different content")

	// ErrNoActive is returned when resolution without a hint is attempted
	// before any version has been activated.
	ErrNoActive = errors.New("no active schedule version")
)

// NotFoundError carries the missing version for alerting.
type NotFoundError struct {
	Version string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schedule version %q not found", e.Version)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds every known schedule version. Append-only.
type Catalog struct {
	mu       sync.RWMutex
	versions map[string]*GrantSchedule
	active   string
}

func NewCatalog() *Catalog {
	return &Catalog{versions: make(map[string]*GrantSchedule)}
}

// Register validates and adds a schedule version. Registering the same
// version with identical content is a no-op; different content fails with
// ErrVersionConflict.
func (c *Catalog) Register(s *GrantSchedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.versions[s.Version]; ok {
		if existing.Equal(s) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, s.Version)
	}
	c.versions[s.Version] = s
	return nil
}

// RegisterActive registers a schedule and makes it the active version.
func (c *Catalog) RegisterActive(s *GrantSchedule) error {
	if err := c.Register(s); err != nil {
		return err
	}
	return c.SetActive(s.Version)
}

// SetActive moves the active pointer to an already-registered version.
func (c *Catalog) SetActive(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.versions[version]; !ok {
		return &NotFoundError{Version: version}
	}
	c.active = version
	return nil
}

// Resolve returns the schedule for a version hint, or the active schedule
// when the hint is empty.
func (c *Catalog) Resolve(versionHint string) (*GrantSchedule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if versionHint == "" {
		if c.active == "" {
			return nil, ErrNoActive
		}
		return c.versions[c.active], nil
	}
	s, ok := c.versions[versionHint]
	if !ok {
		return nil, &NotFoundError{Version: versionHint}
	}
	return s, nil
}

// ActiveVersion returns the currently active version label ("" if none).
func (c *Catalog) ActiveVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Versions returns all registered version labels in ascending order.
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.versions))
	for v := range c.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
