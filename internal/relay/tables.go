package relay

import "remote-relay/internal/model"

// clientRegistry owns every connected Client record. Not locked itself; the
// broker's mutex guards both tables because most operations touch both.
type clientRegistry struct {
	byID map[string]*model.Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{byID: make(map[string]*model.Client)}
}

func (r *clientRegistry) get(id string) (*model.Client, bool) {
	c, ok := r.byID[id]
	return c, ok
}

func (r *clientRegistry) has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *clientRegistry) put(c *model.Client) {
	r.byID[c.ID] = c
}

func (r *clientRegistry) remove(id string) {
	delete(r.byID, id)
}

func (r *clientRegistry) size() int {
	return len(r.byID)
}

// staleIDs returns clients not heard from since the cutoff.
func (r *clientRegistry) staleIDs(cutoff int64) []string {
	var ids []string
	for id, c := range r.byID {
		if c.LastSeenAt < cutoff {
			ids = append(ids, id)
		}
	}
	return ids
}

// sessionTable owns Session records. Participants are referenced by id only
// and may no longer resolve in the registry.
type sessionTable struct {
	byID map[string]*model.Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{byID: make(map[string]*model.Session)}
}

func (t *sessionTable) get(id string) (*model.Session, bool) {
	s, ok := t.byID[id]
	return s, ok
}

func (t *sessionTable) put(s *model.Session) {
	t.byID[s.ID] = s
}

func (t *sessionTable) remove(id string) {
	delete(t.byID, id)
}

func (t *sessionTable) size() int {
	return len(t.byID)
}

func (t *sessionTable) byParticipant(clientID string) []*model.Session {
	var out []*model.Session
	for _, s := range t.byID {
		if s.RequesterID == clientID || s.TargetID == clientID {
			out = append(out, s)
		}
	}
	return out
}

func (t *sessionTable) activeWith(clientID string) bool {
	for _, s := range t.byID {
		if s.Status != model.SessionActive {
			continue
		}
		if s.RequesterID == clientID || s.TargetID == clientID {
			return true
		}
	}
	return false
}

func (t *sessionTable) activeCount() int {
	n := 0
	for _, s := range t.byID {
		if s.Status == model.SessionActive {
			n++
		}
	}
	return n
}

// expiredIDs returns sessions older than their status-dependent TTL.
func (t *sessionTable) expiredIDs(now int64, pendingTTL, activeTTL int64) []string {
	var ids []string
	for id, s := range t.byID {
		maxAge := activeTTL
		if s.Status == model.SessionPending {
			maxAge = pendingTTL
		}
		if now-s.CreatedAt > maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}
