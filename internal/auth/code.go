package auth

import (
	"log"
	"sync"
	"time"

	"remote-relay/internal/ident"
	"remote-relay/internal/model"
)

// CodeManager hands out 6-digit access codes with a TTL. Codes stay valid for
// multiple joins until they expire or are revoked.
type CodeManager struct {
	mu    sync.Mutex
	codes map[string]*model.AccessCode
	alloc *ident.Allocator
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
}

type CodeInfo struct {
	Code          string `json:"code"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	TimeRemaining int64  `json:"timeRemaining"`
	Used          bool   `json:"used"`
}

type CodeStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Used    int `json:"used"`
}

// NewCodeManager starts a background sweep that drops expired codes once a
// minute.
func NewCodeManager(ttl time.Duration) *CodeManager {
	m := NewCodeManagerWithNow(ttl, time.Now)
	go m.sweepLoop(time.Minute)
	return m
}

func NewCodeManagerWithNow(ttl time.Duration, now func() time.Time) *CodeManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CodeManager{
		codes: make(map[string]*model.AccessCode),
		alloc: ident.NewAllocator(ident.AccessCodeDigits),
		ttl:   ttl,
		now:   now,
		stop:  make(chan struct{}),
	}
}

func (m *CodeManager) Close() {
	close(m.stop)
}

func (m *CodeManager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.SweepExpired(); n > 0 {
				log.Printf("swept %d expired access codes", n)
			}
		}
	}
}

func (m *CodeManager) Generate() (model.AccessCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.alloc.Allocate(func(c string) bool {
		_, ok := m.codes[c]
		return ok
	})
	if err != nil {
		return model.AccessCode{}, err
	}

	now := m.now().UnixMilli()
	ac := &model.AccessCode{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now + m.ttl.Milliseconds(),
	}
	m.codes[code] = ac
	log.Printf("access code generated: %s", code)
	return *ac, nil
}

// Validate reports whether the code exists, is unexpired and unrevoked.
// Expired codes are dropped on sight.
func (m *CodeManager) Validate(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.codes[code]
	if !ok {
		return false
	}
	if m.now().UnixMilli() > ac.ExpiresAt {
		delete(m.codes, code)
		return false
	}
	return true
}

func (m *CodeManager) Revoke(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[code]; !ok {
		return false
	}
	delete(m.codes, code)
	log.Printf("access code revoked: %s", code)
	return true
}

// Active lists unexpired codes with their remaining lifetime.
func (m *CodeManager) Active() []CodeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixMilli()
	out := make([]CodeInfo, 0, len(m.codes))
	for _, ac := range m.codes {
		if now > ac.ExpiresAt {
			continue
		}
		out = append(out, CodeInfo{
			Code:          ac.Code,
			CreatedAt:     ac.CreatedAt,
			ExpiresAt:     ac.ExpiresAt,
			TimeRemaining: ac.ExpiresAt - now,
			Used:          ac.Used,
		})
	}
	return out
}

func (m *CodeManager) Stats() CodeStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixMilli()
	st := CodeStats{Total: len(m.codes)}
	for _, ac := range m.codes {
		if now > ac.ExpiresAt {
			st.Expired++
		}
		if ac.Used {
			st.Used++
		}
	}
	st.Active = st.Total - st.Expired
	return st
}

// SweepExpired removes codes past their expiry. Same discipline as the relay
// session sweep: runs on a fixed interval.
func (m *CodeManager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixMilli()
	removed := 0
	for code, ac := range m.codes {
		if now > ac.ExpiresAt {
			delete(m.codes, code)
			removed++
		}
	}
	return removed
}
