package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/agent"
	"github.com/mcdev12/classroom/go/internal/config"
	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/persistence"
	"github.com/mcdev12/classroom/go/internal/realtime"
	"github.com/mcdev12/classroom/go/internal/state"
	"github.com/mcdev12/classroom/go/internal/uifeed"
)

type Services struct {
	Agent *agent.Agent
	Feed  *uifeed.Hub
}

// feedKeys are sent to every UI client on connect.
var feedKeys = []state.Key{
	state.KeySessionID,
	state.KeySessionCode,
	state.KeyTeamID,
	state.KeyTeamName,
	state.KeyIsAdmin,
	state.KeyCurrentQuestion,
	state.KeyTeams,
	state.KeyPowerups,
	state.KeyConnectionState,
}

func setupServices(cfg config.Config, db persistence.Client, storage localstore.Storage, notifier realtime.Notifier) *Services {
	// Persistence → Repository → App → Agent, then the UI feed on top
	a := agent.New(cfg, agent.Deps{
		DB:       db,
		Storage:  storage,
		Notifier: notifier,
	})

	feed := uifeed.NewHub(uifeed.DefaultConfig(), a.HandleCommand)
	feed.BindStore(a.Store, feedKeys...)
	feed.BindBus(a.Bus)

	return &Services{Agent: a, Feed: feed}
}

// bootstrap boots the agent, then hosts or joins when asked to on the command line.
func bootstrap(ctx context.Context, services *Services, flags Flags) error {
	a := services.Agent
	a.Boot(ctx)

	switch {
	case flags.Host:
		session, err := a.Host(ctx)
		if err != nil {
			return fmt.Errorf("failed to host session: %w", err)
		}
		log.Info().Str("code", session.Code).Msg("hosting session, share this code with the teams")
	case flags.JoinCode != "":
		team, err := a.Join(ctx, flags.JoinCode, flags.TeamName)
		if err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
		log.Info().Str("team", team.Name).Int("score", team.Score).Msg("joined session")
	}
	return nil
}
