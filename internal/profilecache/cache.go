package profilecache

import (
	"context"
	"encoding/json"
	"time"

	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"go.uber.org/zap"
)

// RecordVersion guards the stored shape. Entries written with a different
// version read as a miss instead of being adopted.
const RecordVersion = 1

const (
	keyPrefix = "user_profile_"

	// LegacyAuthKey is the pre-rewrite global cache key. It is cleared
	// best-effort on sign-out so stale installs cannot resurrect state.
	LegacyAuthKey = "repairlane-auth-cache"
)

// Record is the cached snapshot for one user.
type Record struct {
	Version   int                     `json:"version"`
	Profile   *profiledomain.Profile  `json:"profile"`
	Extended  *profiledomain.Extended `json:"extended_profile,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Cache is the typed profile cache consumed by the session manager.
type Cache interface {
	Get(ctx context.Context, userID string) (*Record, error)
	Set(ctx context.Context, userID string, record Record) error
	Remove(ctx context.Context, userID string) error
	RemoveLegacy(ctx context.Context) error
}

type cache struct {
	store Store
	log   *zap.Logger
	ttl   time.Duration
}

func New(store Store, log *zap.Logger, ttl time.Duration) Cache {
	return &cache{
		store: store,
		log:   log.Named("profile.cache"),
		ttl:   ttl,
	}
}

func Key(userID string) string {
	return keyPrefix + userID
}

func (c *cache) Get(ctx context.Context, userID string) (*Record, error) {
	raw, err := c.store.Get(ctx, Key(userID))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// Corrupt entries read as a miss; the next successful fetch rewrites them.
		c.log.Warn("discarding unreadable cache entry", zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	if record.Version != RecordVersion || record.Profile == nil {
		c.log.Debug("ignoring cache entry with stale version",
			zap.String("user_id", userID),
			zap.Int("version", record.Version),
		)
		return nil, nil
	}
	return &record, nil
}

func (c *cache) Set(ctx context.Context, userID string, record Record) error {
	record.Version = RecordVersion
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(userID), string(raw), c.ttl)
}

func (c *cache) Remove(ctx context.Context, userID string) error {
	return c.store.Remove(ctx, Key(userID))
}

func (c *cache) RemoveLegacy(ctx context.Context) error {
	return c.store.Remove(ctx, LegacyAuthKey)
}
