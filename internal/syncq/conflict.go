package syncq

import (
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Strategies selects the automatic strategy per entity type.
type Strategies struct {
	Session  model.Strategy
	Response model.Strategy
}

// DefaultStrategies keeps monotonic session transitions server side and
// merges responses by answer time.
var DefaultStrategies = Strategies{
	Session:  model.StrategyServerWins,
	Response: model.StrategyMerge,
}

func (s Strategies) For(e model.ConflictEntity) model.Strategy {
	if e == model.EntitySession {
		if s.Session.Valid() {
			return s.Session
		}
		return DefaultStrategies.Session
	}
	if s.Response.Valid() {
		return s.Response
	}
	return DefaultStrategies.Response
}

// decision is what the resolver concluded for one conflict.
type decision struct {
	apply      bool // write the client value now
	status     model.ConflictStatus
	resolution string
	merged     *model.ConflictVersion
}

// decideResponse picks between the client and server copy of one answer.
// A session that no longer accepts answers turns every client win into a
// manual decision.
func decideResponse(strategy model.Strategy, client, server model.ConflictVersion, live bool) decision {
	var d decision
	switch strategy {
	case model.StrategyServerWins:
		d = decision{status: model.ConflictResolved, resolution: "server_wins", merged: versionPtr(server)}
	case model.StrategyClientWins:
		d = decision{apply: true, status: model.ConflictResolved, resolution: "client_wins", merged: versionPtr(client)}
	case model.StrategyManual:
		d = decision{status: model.ConflictDetected}
	default:
		ct, st := at(client.AnsweredAt), at(server.AnsweredAt)
		switch {
		case ct.After(st):
			d = decision{apply: true, status: model.ConflictResolved, resolution: "merge: client answered later", merged: versionPtr(client)}
		case st.After(ct):
			d = decision{status: model.ConflictResolved, resolution: "merge: server answered later", merged: versionPtr(server)}
		default:
			d = decision{status: model.ConflictNeedsManual, resolution: "merge: answer times tie"}
		}
	}
	if d.apply && !live {
		return decision{status: model.ConflictNeedsManual, resolution: "session no longer accepts answers"}
	}
	return d
}

// decideSession handles session-level fields. Status only moves forward and
// elapsed time never rewinds, so client_wins and merge both take the later
// of the two clocks and the client's submission if the server is still live.
func decideSession(strategy model.Strategy, client, server model.ConflictVersion) decision {
	switch strategy {
	case model.StrategyManual:
		return decision{status: model.ConflictDetected}
	case model.StrategyClientWins, model.StrategyMerge:
		if !server.Status.Live() {
			return decision{status: model.ConflictResolved, resolution: "server status is final", merged: versionPtr(server)}
		}
		m := server
		m.ElapsedSeconds = max(client.ElapsedSeconds, server.ElapsedSeconds)
		if client.Status.HandedIn() {
			m.Status = model.StatusSubmitted
		}
		res := "merge: later clock, forward status"
		if strategy == model.StrategyClientWins {
			res = "client_wins"
		}
		return decision{apply: true, status: model.ConflictResolved, resolution: res, merged: &m}
	}
	return decision{status: model.ConflictResolved, resolution: "server_wins", merged: versionPtr(server)}
}

// sessionFields lists the session fields on which the two copies disagree.
func sessionFields(client, server model.ConflictVersion) []string {
	var f []string
	if client.Status != server.Status {
		f = append(f, "status")
	}
	if client.ElapsedSeconds != server.ElapsedSeconds {
		f = append(f, "time_elapsed_seconds")
	}
	return f
}

func responseFields(client, server model.ConflictVersion) []string {
	f := []string{"payload"}
	if client.ResponseStatus != server.ResponseStatus {
		f = append(f, "status")
	}
	if !at(client.AnsweredAt).Equal(at(server.AnsweredAt)) {
		f = append(f, "answered_at")
	}
	return f
}

func at(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func versionPtr(v model.ConflictVersion) *model.ConflictVersion { return &v }
