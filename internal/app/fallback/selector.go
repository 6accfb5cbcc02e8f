package fallback

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	charapp "charsearch/internal/app/character"
	"charsearch/internal/domain/character"
	"charsearch/internal/platform/observability"
)

var ErrNoFallbackAvailable = errors.New("no fallback character available")

type Strategy string

const (
	// StrategyFromList picks a random entry of the unfiltered list.
	StrategyFromList Strategy = "list"
	// StrategyRandomID fetches a character by a random id.
	StrategyRandomID Strategy = "random-id"
)

const DefaultIDRange = 200

// ParseStrategy is case-insensitive and ignores surrounding whitespace.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyFromList, StrategyRandomID:
		return st, nil
	}
	return "", fmt.Errorf("unknown fallback strategy %q", s)
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusFound       Status = "found"
	StatusNotFound    Status = "not_found"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
)

type Outcome struct {
	Strategy  Strategy             `json:"strategy"`
	Status    Status               `json:"status"`
	Character *character.Character `json:"character,omitempty"`
	Err       error                `json:"-"`
}

type CharacterSource interface {
	ListCharacters(ctx context.Context, nameFilter string) ([]character.Character, error)
	GetCharacterByID(ctx context.Context, id int) (character.Character, error)
}

// Selector chooses a substitute character when a search has no results.
// It is safe for concurrent use.
type Selector struct {
	strategy Strategy
	source   CharacterSource
	idRange  int
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	rand *rand.Rand
}

func NewSelector(strategy Strategy, source CharacterSource, idRange int, logger zerolog.Logger, metrics *observability.Metrics) *Selector {
	if idRange <= 0 {
		idRange = DefaultIDRange
	}
	return &Selector{
		strategy: strategy,
		source:   source,
		idRange:  idRange,
		logger:   logger,
		metrics:  metrics,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// PickIndex returns an index uniformly distributed in [0, n).
func (s *Selector) PickIndex(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoFallbackAvailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n), nil
}

// RandomID returns an id uniformly distributed in [0, idRange).
func (s *Selector) RandomID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(s.idRange)
}

func (s *Selector) FromList(list []character.Character) (character.Character, error) {
	i, err := s.PickIndex(len(list))
	if err != nil {
		return character.Character{}, err
	}
	return list[i], nil
}

// Select runs the configured strategy to completion. known is the
// unfiltered list already held by the caller, or nil if none was fetched;
// only the list strategy uses it.
func (s *Selector) Select(ctx context.Context, known []character.Character) Outcome {
	var out Outcome
	switch s.strategy {
	case StrategyRandomID:
		out = s.selectByID(ctx)
	default:
		out = s.selectFromList(ctx, known)
	}
	out.Strategy = s.strategy
	s.metrics.FallbackSelected(string(s.strategy), string(out.Status))
	return out
}

func (s *Selector) selectFromList(ctx context.Context, known []character.Character) Outcome {
	list := known
	if list == nil {
		fetched, err := s.source.ListCharacters(ctx, "")
		if err != nil {
			s.logger.Warn().Err(err).Msg("fallback list fetch failed")
			return Outcome{Status: StatusFailed, Err: err}
		}
		list = fetched
	}
	c, err := s.FromList(list)
	if err != nil {
		return Outcome{Status: StatusUnavailable, Err: err}
	}
	return Outcome{Status: StatusFound, Character: &c}
}

func (s *Selector) selectByID(ctx context.Context) Outcome {
	id := s.RandomID()
	c, err := s.source.GetCharacterByID(ctx, id)
	if errors.Is(err, charapp.ErrNotFound) {
		s.logger.Debug().Int("id", id).Msg("fallback id does not exist")
		return Outcome{Status: StatusNotFound, Err: err}
	}
	if err != nil {
		s.logger.Warn().Err(err).Int("id", id).Msg("fallback fetch failed")
		return Outcome{Status: StatusFailed, Err: err}
	}
	return Outcome{Status: StatusFound, Character: &c}
}
