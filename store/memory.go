package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"houseparty-server/models"
)

// NewMemory returns a Store kept entirely in process memory. Used by tests
// and by STORE_DRIVER=memory for local runs.
func NewMemory() *Store {
	return &Store{
		Users:       &MemoryUsers{users: make(map[string]*models.User)},
		OTPs:        &MemoryOTPs{otps: make(map[string]*models.OTP)},
		Invitations: &MemoryInvitations{invs: make(map[string]*models.Invitation)},
		Parties:     &MemoryParties{parties: make(map[string]*models.Party)},
	}
}

type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	cp.Friends = append([]string(nil), u.Friends...)
	cp.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	return &cp
}

func (m *MemoryUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrConflict
	}
	for _, u := range m.users {
		if u.Email == user.Email || u.Username == user.Username || u.Phone == user.Phone {
			return ErrConflict
		}
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemoryUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *MemoryUsers) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Phone == phone })
}

func (m *MemoryUsers) FindConflicts(_ context.Context, email, username, phone string) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.User
	for _, u := range m.users {
		if u.Email == email || u.Username == username || (phone != "" && u.Phone == phone) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MemoryUsers) FindByIDs(_ context.Context, ids []string) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MemoryUsers) Search(_ context.Context, query string, exclude []string, limit int) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	q := strings.ToLower(query)
	var out []*models.User
	for _, u := range m.users {
		if skip[u.ID] {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.Email), q) ||
			strings.Contains(strings.ToLower(u.Phone), q) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryUsers) mutate(id string, fn func(*models.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryUsers) SetEmailVerified(_ context.Context, id string) error {
	return m.mutate(id, func(u *models.User) error {
		u.IsEmailVerified = true
		return nil
	})
}

func (m *MemoryUsers) SetPasswordHash(_ context.Context, id, hash string) error {
	return m.mutate(id, func(u *models.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (m *MemoryUsers) UpdateProfile(_ context.Context, id string, username, profilePicture *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if username != nil {
		for _, other := range m.users {
			if other.ID != id && other.Username == *username {
				return ErrConflict
			}
		}
		u.Username = *username
	}
	if profilePicture != nil {
		u.ProfilePicture = *profilePicture
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryUsers) UpdateSettings(_ context.Context, id string, settings models.Settings) error {
	return m.mutate(id, func(u *models.User) error {
		u.Settings = settings
		return nil
	})
}

func (m *MemoryUsers) AddDeviceToken(_ context.Context, id, token string) error {
	return m.mutate(id, func(u *models.User) error {
		u.DeviceTokens = addToSet(u.DeviceTokens, token)
		return nil
	})
}

func (m *MemoryUsers) RemoveDeviceTokens(_ context.Context, id string, tokens ...string) error {
	return m.mutate(id, func(u *models.User) error {
		for _, t := range tokens {
			u.DeviceTokens = pull(u.DeviceTokens, t)
		}
		return nil
	})
}

func (m *MemoryUsers) AddFriendship(_ context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ua, okA := m.users[a]
	ub, okB := m.users[b]
	if !okA || !okB {
		return ErrNotFound
	}
	ua.Friends = addToSet(ua.Friends, b)
	ub.Friends = addToSet(ub.Friends, a)
	return nil
}

func (m *MemoryUsers) RemoveFriendship(_ context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ua, ok := m.users[a]; ok {
		ua.Friends = pull(ua.Friends, b)
	}
	if ub, ok := m.users[b]; ok {
		ub.Friends = pull(ub.Friends, a)
	}
	return nil
}

func (m *MemoryUsers) SetPresence(_ context.Context, id string, inHouse bool, at time.Time) error {
	return m.mutate(id, func(u *models.User) error {
		u.IsInHouse = inHouse
		u.LastActive = at
		return nil
	})
}

func addToSet(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func pull(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

type MemoryOTPs struct {
	mu   sync.Mutex
	otps map[string]*models.OTP
}

func (m *MemoryOTPs) Replace(_ context.Context, otp *models.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.otps {
		if o.Email == otp.Email && o.Purpose == otp.Purpose {
			delete(m.otps, id)
		}
	}
	cp := *otp
	m.otps[otp.ID] = &cp
	return nil
}

func (m *MemoryOTPs) FindActive(_ context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.Email == email && o.Purpose == purpose && !o.Expired(now) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryOTPs) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.otps[id]
	if !ok {
		return 0, ErrNotFound
	}
	o.Attempts++
	return o.Attempts, nil
}

func (m *MemoryOTPs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.otps[id]; !ok {
		return ErrNotFound
	}
	delete(m.otps, id)
	return nil
}

func (m *MemoryOTPs) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.otps {
		if o.Expired(now) {
			delete(m.otps, id)
			n++
		}
	}
	return n, nil
}

type MemoryInvitations struct {
	mu   sync.Mutex
	invs map[string]*models.Invitation
}

func (m *MemoryInvitations) Create(_ context.Context, inv *models.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invs[inv.ID]; ok {
		return ErrConflict
	}
	cp := *inv
	m.invs[inv.ID] = &cp
	return nil
}

func (m *MemoryInvitations) FindByID(_ context.Context, id string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryInvitations) FindPending(_ context.Context, kind models.InvitationKind, senderID, receiverID string, now time.Time) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invs {
		if inv.Kind == kind && inv.SenderID == senderID && inv.ReceiverID == receiverID && inv.Open(now) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryInvitations) ListPendingFor(_ context.Context, receiverID string, kind models.InvitationKind, now time.Time) ([]*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Invitation
	for _, inv := range m.invs {
		if inv.Kind == kind && inv.ReceiverID == receiverID && inv.Open(now) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryInvitations) Transition(_ context.Context, id string, from, to models.InvitationStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invs[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != from {
		return ErrConflict
	}
	inv.Status = to
	inv.UpdatedAt = now
	return nil
}

func (m *MemoryInvitations) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.invs {
		if inv.Status == models.StatusPending && !now.Before(inv.ExpiresAt) {
			inv.Status = models.StatusExpired
			inv.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

type MemoryParties struct {
	mu      sync.Mutex
	parties map[string]*models.Party
}

func (m *MemoryParties) Create(_ context.Context, party *models.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[party.ID]; ok {
		return ErrConflict
	}
	for _, p := range m.parties {
		if p.Channel == party.Channel {
			return ErrConflict
		}
	}
	m.parties[party.ID] = party.Clone()
	return nil
}

func (m *MemoryParties) FindByID(_ context.Context, id string) (*models.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryParties) Update(_ context.Context, party *models.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.parties[party.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != party.Version {
		return ErrVersionConflict
	}
	party.Version++
	m.parties[party.ID] = party.Clone()
	return nil
}

func (m *MemoryParties) ListActiveInvolving(_ context.Context, userIDs []string) ([]*models.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []*models.Party
	for _, p := range m.parties {
		if !p.IsActive {
			continue
		}
		involved := want[p.HostID]
		for _, pt := range p.Participants {
			involved = involved || want[pt.UserID]
		}
		if involved {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
