package clavis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clavisauth/clavis/rbac"
)

// MemoryUserStore is an in-memory UserStore for tests and examples. It is
// safe for concurrent use but loses everything on restart; production
// deployments use a durable store such as pgstore.
type MemoryUserStore struct {
	mu         sync.Mutex
	users      map[string]*memoryUser
	byEmail    map[string]string
	byIdentity map[string]string // provider\x00subject -> user id
}

type memoryUser struct {
	record      UserRecord
	history     []string
	backupCodes map[[32]byte]bool // hash -> spent
	roles       map[string]struct{}
}

// NewMemoryUserStore returns an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:      make(map[string]*memoryUser),
		byEmail:    make(map[string]string),
		byIdentity: make(map[string]string),
	}
}

func (s *MemoryUserStore) CreateUser(_ context.Context, in CreateUserInput) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	if _, taken := s.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}

	u := &memoryUser{
		record: UserRecord{
			ID:           uuid.NewString(),
			Email:        email,
			Name:         in.Name,
			PasswordHash: in.PasswordHash,
			CreatedAt:    time.Now().UTC(),
		},
		backupCodes: make(map[[32]byte]bool),
		roles:       make(map[string]struct{}),
	}
	for _, role := range in.Roles {
		u.roles[role] = struct{}{}
	}

	s.users[u.record.ID] = u
	s.byEmail[email] = u.record.ID

	record := u.record
	return &record, nil
}

func (s *MemoryUserStore) UserByID(_ context.Context, id string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	record := u.record
	return &record, nil
}

func (s *MemoryUserStore) UserByEmail(_ context.Context, email string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	record := s.users[id].record
	return &record, nil
}

func (s *MemoryUserStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.record.PasswordHash != "" {
		u.history = append([]string{u.record.PasswordHash}, u.history...)
	}
	u.record.PasswordHash = hash
	return nil
}

func (s *MemoryUserStore) PasswordHistory(_ context.Context, id string, depth int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if depth > len(u.history) {
		depth = len(u.history)
	}
	out := make([]string, depth)
	copy(out, u.history[:depth])
	return out, nil
}

func (s *MemoryUserStore) UpdateLockState(_ context.Context, id string, failedCount int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.record.FailedLoginCount = failedCount
	u.record.LockedUntil = lockedUntil
	return nil
}

func (s *MemoryUserStore) SetMFA(_ context.Context, id string, enabled bool, secret, pendingSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.record.MFAEnabled = enabled
	u.record.MFASecret = secret
	u.record.MFAPendingSecret = pendingSecret
	return nil
}

func (s *MemoryUserStore) ReplaceBackupCodes(_ context.Context, id string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.backupCodes = make(map[[32]byte]bool, len(hashes))
	for _, h := range hashes {
		u.backupCodes[h] = false
	}
	return nil
}

func (s *MemoryUserStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, ErrUserNotFound
	}
	spent, exists := u.backupCodes[hash]
	if !exists || spent {
		return false, nil
	}
	u.backupCodes[hash] = true
	return true, nil
}

func (s *MemoryUserStore) RolesForUser(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := make([]string, 0, len(u.roles))
	for role := range u.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryUserStore) AssignRole(_ context.Context, id, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.roles[role] = struct{}{}
	return nil
}

func (s *MemoryUserStore) RevokeRole(_ context.Context, id, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(u.roles, role)
	return nil
}

func (s *MemoryUserStore) UserByExternalIdentity(_ context.Context, provider, subject string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdentity[provider+"\x00"+subject]
	if !ok {
		return nil, ErrUserNotFound
	}
	record := s.users[id].record
	return &record, nil
}

func (s *MemoryUserStore) LinkExternalIdentity(_ context.Context, id, provider, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	s.byIdentity[provider+"\x00"+subject] = id
	return nil
}

// MemoryRoleStore is an in-memory RoleStore. The engine keeps its own role
// graph; this store only answers the initial load and write-throughs.
type MemoryRoleStore struct {
	mu    sync.Mutex
	roles map[string]rbac.Role
}

// NewMemoryRoleStore returns an empty store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]rbac.Role)}
}

func (s *MemoryRoleStore) Roles(context.Context) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rbac.Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryRoleStore) SaveRole(_ context.Context, role rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.Name] = role
	return nil
}

func (s *MemoryRoleStore) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, name)
	return nil
}
