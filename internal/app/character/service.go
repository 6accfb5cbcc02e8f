package character

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/machinebox/graphql"
	"github.com/rs/zerolog"

	"charsearch/internal/domain/character"
	"charsearch/internal/platform/observability"
)

var ErrNotFound = errors.New("character not found")
var ErrUpstream = errors.New("character source unavailable")

// Runner executes a GraphQL request. *graphql.Client satisfies it.
type Runner interface {
	Run(ctx context.Context, req *graphql.Request, resp interface{}) error
}

type Service struct {
	client  Runner
	logger  zerolog.Logger
	metrics *observability.Metrics
}

type listResponse struct {
	Characters struct {
		Results []character.Character `json:"results"`
	} `json:"characters"`
}

type getResponse struct {
	Character *character.Character `json:"character"`
}

func NewService(client Runner, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{client: client, logger: logger, metrics: metrics}
}

// ListCharacters returns characters whose name matches nameFilter, in
// server order. An empty filter lists without filtering. The API answers a
// filter with no match by a not-found error; that is an empty result.
func (s *Service) ListCharacters(ctx context.Context, nameFilter string) ([]character.Character, error) {
	req := graphql.NewRequest(listCharactersQuery)
	if nameFilter = strings.TrimSpace(nameFilter); nameFilter != "" {
		req.Var("name", nameFilter)
	}
	var resp listResponse
	err := s.run(ctx, opListCharacters, req, &resp)
	if errors.Is(err, ErrNotFound) {
		return make([]character.Character, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("list characters %q: %w", nameFilter, err)
	}
	chars := resp.Characters.Results
	if chars == nil {
		chars = make([]character.Character, 0)
	}
	return chars, nil
}

// GetCharacterByID returns ErrNotFound when the id does not exist.
func (s *Service) GetCharacterByID(ctx context.Context, id int) (character.Character, error) {
	req := graphql.NewRequest(getCharacterQuery)
	req.Var("id", id)
	var resp getResponse
	err := s.run(ctx, opGetCharacter, req, &resp)
	if errors.Is(err, ErrNotFound) {
		return character.Character{}, ErrNotFound
	}
	if err != nil {
		return character.Character{}, fmt.Errorf("get character %d: %w", id, err)
	}
	if resp.Character == nil {
		return character.Character{}, ErrNotFound
	}
	return *resp.Character, nil
}

func (s *Service) run(ctx context.Context, op string, req *graphql.Request, resp any) error {
	start := time.Now()
	err := s.client.Run(ctx, req, resp)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		s.metrics.ObserveGraphQL(op, "ok", elapsed)
		return nil
	case isNotFound(err):
		s.metrics.ObserveGraphQL(op, "not_found", elapsed)
		return ErrNotFound
	default:
		s.metrics.ObserveGraphQL(op, "error", elapsed)
		s.logger.Debug().Err(err).Str("operation", op).Dur("elapsed", elapsed).Msg("graphql request failed")
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

// isNotFound recognises the API's GraphQL-level not-found errors.
// machinebox/graphql reports errors[0].message as "graphql: <message>".
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.HasPrefix(msg, "graphql: ") {
		return false
	}
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
