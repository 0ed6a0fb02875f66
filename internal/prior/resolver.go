// Package prior resolves relative prior-study references ("1 study back",
// "oldest") against a patient's available priors, fetching full study
// metadata asynchronously through the host's metadata source.
package prior

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// defaultCacheSize bounds the resolved-study cache when the host does not
// configure one.
const defaultCacheSize = 32

// Pick maps an abstract prior value onto the available priors list, which
// is ordered most recent first. -1 selects the oldest; a positive n
// selects the n-th most recent, clamped to the most recent at minimum.
func Pick(priors []metadata.StudySummary, abstractPriorValue int) (metadata.StudySummary, bool) {
	if len(priors) == 0 {
		return metadata.StudySummary{}, false
	}
	if abstractPriorValue == -1 {
		return priors[len(priors)-1], true
	}
	index := abstractPriorValue - 1
	if index < 0 {
		index = 0
	}
	if index >= len(priors) {
		return metadata.StudySummary{}, false
	}
	return priors[index], true
}

// Resolver fetches prior-study metadata. Concurrent resolutions of the
// same study collapse into one load, and resolved studies are cached so
// stage changes do not refetch.
type Resolver struct {
	source metadata.Source
	group  singleflight.Group
	cache  *lru.Cache[string, *metadata.Study]
	logger *slog.Logger
}

// NewResolver creates a resolver over the given metadata source.
// cacheSize <= 0 uses the default; a nil logger falls back to
// slog.Default.
func NewResolver(source metadata.Source, cacheSize int, logger *slog.Logger) (*Resolver, error) {
	if source == nil {
		return nil, fmt.Errorf("prior: nil metadata source")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *metadata.Study](cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, logger: logger}, nil
}

// Resolve maps the abstract prior value onto the priors list and loads the
// selected study's metadata. The resolved study (and its first instance)
// is stamped with the abstractPriorValue so study rules can match on it.
func (r *Resolver) Resolve(ctx context.Context, abstractPriorValue int, priors []metadata.StudySummary) (*metadata.Study, error) {
	ref, ok := Pick(priors, abstractPriorValue)
	if !ok {
		return nil, fmt.Errorf("prior: no prior study for abstract value %d (%d available)",
			abstractPriorValue, len(priors))
	}

	study, err := r.load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("prior: load study %s: %w", ref.StudyInstanceUID, err)
	}

	study.SetCustomAttribute(protocol.AbstractPriorAttribute, abstractPriorValue)
	if first := study.FirstInstance(); first != nil {
		first.SetCustomAttribute(protocol.AbstractPriorAttribute, abstractPriorValue)
	}
	return study, nil
}

func (r *Resolver) load(ctx context.Context, ref metadata.StudySummary) (*metadata.Study, error) {
	if study, ok := r.cache.Get(ref.StudyInstanceUID); ok {
		return study, nil
	}

	v, err, shared := r.group.Do(ref.StudyInstanceUID, func() (any, error) {
		study, err := r.source.LoadStudy(ctx, ref)
		if err != nil {
			return nil, err
		}
		r.cache.Add(ref.StudyInstanceUID, study)
		return study, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("prior load deduplicated", slog.String("studyInstanceUID", ref.StudyInstanceUID))
	}
	return v.(*metadata.Study), nil
}
