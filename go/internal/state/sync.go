package state

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
)

// Fetcher is what SyncState reads from the persistence layer.
type Fetcher interface {
	GetTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error)
	GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	GetAnswer(ctx context.Context, questionID, teamID uuid.UUID) (*models.Answer, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
}

// SyncState pulls the session's teams, the active question, the local team's
// answer to it and the local team's inventory. Each fetch is independent: a
// failure falls back to the last cached copy of that one resource and is
// logged, never returned.
func (s *Store) SyncState(ctx context.Context, f Fetcher) {
	sessionID, teamID := s.SessionID(), s.TeamID()
	if sessionID == uuid.Nil {
		return
	}
	partial := map[Key]any{}
	degraded := false

	teams, err := fetch(ctx, s, teamsCacheKey(sessionID), func(ctx context.Context) ([]models.Team, error) {
		return f.GetTeams(ctx, sessionID)
	})
	if err != nil {
		degraded = true
	}
	if teams != nil {
		partial[KeyTeams] = teams
	}

	question, err := fetch(ctx, s, questionCacheKey(sessionID), func(ctx context.Context) (*models.Question, error) {
		return f.GetActiveQuestion(ctx, sessionID)
	})
	if err != nil {
		degraded = true
		if question != nil {
			partial[KeyCurrentQuestion] = question
		}
	} else {
		partial[KeyCurrentQuestion] = question
	}

	if teamID != uuid.Nil {
		if question != nil {
			answer, err := fetch(ctx, s, answerCacheKey(teamID, question.ID), func(ctx context.Context) (*models.Answer, error) {
				return f.GetAnswer(ctx, question.ID, teamID)
			})
			if err != nil {
				degraded = true
			}
			if answer != nil {
				s.SetAnswer(*answer)
			}
		}

		team, err := fetch(ctx, s, teamCacheKey(teamID), func(ctx context.Context) (*models.Team, error) {
			return f.GetTeam(ctx, teamID)
		})
		if err != nil {
			degraded = true
		}
		if team != nil {
			partial[KeyPowerups] = team.Clone().Powerups
		}
	}

	if degraded {
		partial[KeyConnectionState] = ConnectionDegraded
	} else {
		partial[KeyConnectionState] = ConnectionConnected
	}
	s.Update(partial)
}

// fetch runs get under the store's fetch timeout. On success the result is
// written to the cache under key; on failure the cached copy is returned with
// the error.
func fetch[T any](ctx context.Context, s *Store, key string, get func(context.Context) (T, error)) (T, error) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	v, err := get(fctx)
	cancel()
	if err == nil {
		s.writeCache(key, v)
		return v, nil
	}

	log.Warn().Err(err).Str("resource", key).Msg("sync fetch failed, using cached copy")
	var cached T
	if !s.readCache(key, &cached) {
		var zero T
		return zero, err
	}
	return cached, err
}

// writeCache stores v as the fallback copy of a resource.
func (s *Store) writeCache(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("resource", key).Msg("failed to encode cache entry")
		return
	}
	ctx, cancel := s.storageCtx()
	defer cancel()
	if err := s.storage.Set(ctx, key, raw); err != nil {
		log.Warn().Err(err).Str("resource", key).Msg("failed to write cache entry")
	}
}

func (s *Store) readCache(key string, into any) bool {
	ctx, cancel := s.storageCtx()
	defer cancel()
	raw, err := s.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotExist) {
			log.Warn().Err(err).Str("resource", key).Msg("failed to read cache entry")
		}
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		log.Warn().Err(err).Str("resource", key).Msg("corrupt cache entry ignored")
		return false
	}
	return true
}
