package app

import (
	"context"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/motoki317/sc"
	"github.com/rs/zerolog/log"
)

const displayNameTimeout = 2 * time.Second

// IdentityResolver maps transport connection ids to stable participant ids
// and resolves display names through the user directory. Name lookups are
// cached; failures degrade to a placeholder, never to an error.
type IdentityResolver struct {
	mu     sync.RWMutex
	byConn map[domain.ConnectionID]domain.ParticipantID
	byPart map[domain.ParticipantID]domain.ConnectionID

	names *sc.Cache[domain.ParticipantID, string]

	// onChange fires after every mutation of the bound set; the session
	// controller hooks the roster refresh here.
	onChange func()
}

func NewIdentityResolver(users core.UserDirectory) *IdentityResolver {
	r := &IdentityResolver{
		byConn: make(map[domain.ConnectionID]domain.ParticipantID),
		byPart: make(map[domain.ParticipantID]domain.ConnectionID),
	}
	r.names = sc.NewMust(func(ctx context.Context, id domain.ParticipantID) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, displayNameTimeout)
		defer cancel()
		return users.DisplayName(ctx, id)
	}, time.Hour, time.Hour)
	return r
}

func (r *IdentityResolver) OnChange(fn func()) { r.onChange = fn }

// Bind associates a connection with a participant. Rebinding overwrites
// silently: a reconnect arrives with a fresh socket and the stale entry
// must not shadow it.
func (r *IdentityResolver) Bind(conn domain.ConnectionID, pid domain.ParticipantID) {
	r.mu.Lock()
	if old, ok := r.byPart[pid]; ok && old != conn {
		delete(r.byConn, old)
	}
	if oldPID, ok := r.byConn[conn]; ok && oldPID != pid {
		delete(r.byPart, oldPID)
	}
	r.byConn[conn] = pid
	r.byPart[pid] = conn
	r.mu.Unlock()
	log.Debug().Str("module", "app.identity").Str("conn", string(conn)).Str("participant", string(pid)).Msg("bound")
	r.notify()
}

func (r *IdentityResolver) Unbind(conn domain.ConnectionID) {
	r.mu.Lock()
	pid, ok := r.byConn[conn]
	if ok {
		delete(r.byConn, conn)
		delete(r.byPart, pid)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	log.Debug().Str("module", "app.identity").Str("conn", string(conn)).Msg("unbound")
	r.notify()
}

// UnbindParticipant removes whatever connection currently carries pid.
func (r *IdentityResolver) UnbindParticipant(pid domain.ParticipantID) {
	r.mu.Lock()
	conn, ok := r.byPart[pid]
	if ok {
		delete(r.byPart, pid)
		delete(r.byConn, conn)
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

func (r *IdentityResolver) Resolve(conn domain.ConnectionID) (domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.byConn[conn]
	return pid, ok
}

func (r *IdentityResolver) Bound() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.byPart))
	for pid := range r.byPart {
		out = append(out, pid)
	}
	return out
}

// DisplayNameFor never fails; unknown users read as the placeholder.
func (r *IdentityResolver) DisplayNameFor(ctx context.Context, pid domain.ParticipantID) string {
	name, err := r.names.Get(ctx, pid)
	if err != nil || name == "" {
		log.Warn().Err(err).Str("module", "app.identity").Str("participant", string(pid)).Msg("display name lookup failed")
		return domain.UnknownDisplayName
	}
	return name
}

func (r *IdentityResolver) Reset() {
	r.mu.Lock()
	r.byConn = make(map[domain.ConnectionID]domain.ParticipantID)
	r.byPart = make(map[domain.ParticipantID]domain.ConnectionID)
	r.mu.Unlock()
}

func (r *IdentityResolver) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
