package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshMismatch signals that a presented refresh hash does not match
	// the stored one: the token was already exchanged, so this presentation
	// is treated as reuse and the whole family is revoked.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")
	// ErrUnavailable wraps transport failures talking to the backing store.
	ErrUnavailable = errors.New("session store unavailable")
)

// rotateScript compares-and-swaps the stored refresh hash. Status codes:
// 0 = session gone, 1 = hash mismatch (family revoked inside the script so
// the losing side of a concurrent rotation cannot observe a half state),
// 2 = rotated.
const rotateScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", KEYS[2])
  redis.call("SREM", KEYS[3], ARGV[3])
  redis.call("SET", KEYS[4], "1", "PX", ARGV[4])
  return 1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
return 2
`

var rotateLua = redis.NewScript(rotateScript)

// Store persists sessions in Redis with native TTL expiry, a per-user index,
// and atomic refresh-hash rotation. All methods are safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore wraps the given Redis client. prefix namespaces all keys.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "clavis"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":s:" + id }
func (s *Store) hashKey(id string) string    { return s.prefix + ":rh:" + id }
func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}
func (s *Store) revokedKey(id string) string { return s.prefix + ":rv:" + id }

// Save persists sess until its sliding expiry. The refresh hash is kept both
// inside the session blob and under a dedicated key that serves as the CAS
// target for rotation.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	now := time.Now()
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", ErrNotFound)
	}
	indexTTL := ttl
	if sess.MaxExpiresAt > now.Unix() {
		indexTTL = time.Until(time.Unix(sess.MaxExpiresAt, 0))
	}

	blob, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), blob, ttl)
	pipe.Set(ctx, s.hashKey(sess.ID), sess.RefreshHash, ttl)
	pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, s.userKey(sess.UserID), indexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	blob, err := s.redis.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session blob", ErrNotFound)
	}
	if sess.Expired(time.Now()) {
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}

	return &sess, nil
}

// Touch slides the session expiry forward, capped by MaxExpiresAt, and
// records the activity timestamp.
func (s *Store) Touch(ctx context.Context, sess *Session, window time.Duration) error {
	now := time.Now()
	sess.LastActivityAt = now.Unix()
	sess.ExpiresAt = sess.NextExpiry(now, window)

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrNotFound
	}

	blob, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	// XX so a touch cannot resurrect a session a concurrent revocation just
	// deleted.
	pipe := s.redis.TxPipeline()
	setCmd := pipe.SetXX(ctx, s.sessionKey(sess.ID), blob, ttl)
	pipe.PExpire(ctx, s.hashKey(sess.ID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok, err := setCmd.Result(); err == nil && !ok {
		return ErrNotFound
	}

	return nil
}

// Rotate atomically replaces the stored refresh hash, enforcing single use.
// Exactly one of two concurrent rotations with the same provided hash wins;
// the other observes [ErrRefreshMismatch] and the family is revoked. The
// updated session is returned on success.
func (s *Store) Rotate(ctx context.Context, id string, providedHash, nextHash [32]byte, revokeMarkerTTL time.Duration) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	status, err := rotateLua.Run(ctx, s.redis,
		[]string{s.hashKey(id), s.sessionKey(id), s.userKey(sess.UserID), s.revokedKey(id)},
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		id,
		revokeMarkerTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch status {
	case 0:
		return nil, ErrNotFound
	case 1:
		return nil, ErrRefreshMismatch
	}

	// The CAS key is authoritative; mirror the new hash into the blob so
	// subsequent Gets agree with it.
	sess.RefreshHash = hex.EncodeToString(nextHash[:])
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl > 0 {
		if blob, err := json.Marshal(sess); err == nil {
			_ = s.redis.SetXX(ctx, s.sessionKey(id), blob, ttl).Err()
		}
	}

	return sess, nil
}

// Delete removes one session and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.rawGet(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id), s.hashKey(id))
	pipe.SRem(ctx, s.userKey(sess.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// DeleteAllForUser revokes every session held by userID.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(ids)*2+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id), s.hashKey(id))
	}
	keys = append(keys, s.userKey(userID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// SessionsForUser lists live sessions. Index entries whose session has
// expired are pruned as a side effect.
func (s *Store) SessionsForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				_ = s.redis.SRem(ctx, s.userKey(userID), id).Err()
				continue
			}
			return nil, err
		}
		out = append(out, sess)
	}

	return out, nil
}

// ActiveCount returns the number of live sessions for userID.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	sessions, err := s.SessionsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// FamilyRevoked reports whether the token family was revoked after a reuse
// detection. The marker lets callers distinguish theft from plain expiry.
func (s *Store) FamilyRevoked(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.revokedKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *Store) rawGet(ctx context.Context, id string) (*Session, error) {
	blob, err := s.redis.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session blob", ErrNotFound)
	}
	return &sess, nil
}
