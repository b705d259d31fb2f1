package scope

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openaip/budget-chat/internal/cache"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/storage"
)

// Directory is a snapshot of the active LGU directory.
type Directory struct {
	Barangays      []storage.LGU `json:"barangays"`
	Cities         []storage.LGU `json:"cities"`
	Municipalities []storage.LGU `json:"municipalities"`
}

func (d *Directory) list(scopeType storage.ScopeType) []storage.LGU {
	switch scopeType {
	case storage.ScopeCity:
		return d.Cities
	case storage.ScopeMunicipality:
		return d.Municipalities
	default:
		return d.Barangays
	}
}

func (d *Directory) match(m Mention) []storage.LGU {
	want := normalizeFor(m.ScopeType, m.ScopeName)
	if want == "" {
		return nil
	}

	var out []storage.LGU
	for _, lgu := range d.list(m.ScopeType) {
		if normalizeFor(m.ScopeType, lgu.Name) == want {
			out = append(out, lgu)
		}
	}
	if len(out) > 0 || m.ScopeType == storage.ScopeBarangay {
		return out
	}

	// "show me cabuyao city" captures leading filler; retry on shorter suffixes.
	tokens := strings.Fields(want)
	for i := 1; i < len(tokens); i++ {
		suffix := strings.Join(tokens[i:], " ")
		for _, lgu := range d.list(m.ScopeType) {
			if normalizeFor(m.ScopeType, lgu.Name) == suffix {
				out = append(out, lgu)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (d *Directory) knownBarangayNames() map[string]bool {
	known := make(map[string]bool, len(d.Barangays))
	for _, b := range d.Barangays {
		if n := NormalizeBarangayName(b.Name); n != "" {
			known[n] = true
		}
	}
	return known
}

func (d *Directory) nameOf(scopeType storage.ScopeType, id, fallback string) string {
	if lgu := d.Lookup(scopeType, id); lgu != nil {
		return lgu.Name
	}
	return fallback
}

// Lookup finds an LGU by type and id.
func (d *Directory) Lookup(scopeType storage.ScopeType, id string) *storage.LGU {
	list := d.list(scopeType)
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// BarangaysInCity returns the active barangays under a city, sorted by name.
func (d *Directory) BarangaysInCity(cityID string) []storage.LGU {
	var out []storage.LGU
	for _, b := range d.Barangays {
		if b.CityID != nil && *b.CityID == cityID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// DirectorySource lists active LGUs.
type DirectorySource interface {
	ListBarangays(ctx context.Context) ([]storage.LGU, error)
	ListCities(ctx context.Context) ([]storage.LGU, error)
	ListMunicipalities(ctx context.Context) ([]storage.LGU, error)
}

var _ DirectorySource = (*storage.DirectoryRepository)(nil)

// DirectoryLoader loads the directory snapshot, caching it as JSON.
type DirectoryLoader struct {
	source DirectorySource
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewDirectoryLoader creates a loader. A nil cache disables caching.
func NewDirectoryLoader(source DirectorySource, c cache.Client, ttl time.Duration, logger *observability.Logger) *DirectoryLoader {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DirectoryLoader{source: source, cache: c, ttl: ttl, logger: logger}
}

// Load returns the directory snapshot.
func (l *DirectoryLoader) Load(ctx context.Context) (*Directory, error) {
	key := cache.DirectoryKey("snapshot")

	if l.cache != nil {
		var dir Directory
		err := cache.GetJSON(ctx, l.cache, key, &dir)
		if err == nil {
			return &dir, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.logger.Warn().Err(err).Msg("Directory cache read failed")
		}
	}

	dir := &Directory{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dir.Barangays, err = l.source.ListBarangays(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		dir.Cities, err = l.source.ListCities(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		dir.Municipalities, err = l.source.ListMunicipalities(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	if l.cache != nil {
		if err := cache.SetJSON(ctx, l.cache, key, dir, l.ttl); err != nil {
			l.logger.Warn().Err(err).Msg("Directory cache write failed")
		}
	}

	return dir, nil
}

// Invalidate drops the cached snapshot.
func (l *DirectoryLoader) Invalidate(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, cache.DirectoryKey("snapshot"))
}
