package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/calmsignal/calmsignal/server/internal/config"
	"github.com/calmsignal/calmsignal/server/internal/store"
)

// writeTimeout bounds one mirror write so a slow Redis cannot stall ingest.
const writeTimeout = 2 * time.Second

const (
	realtimeSuffix = ":realtime"
	versionSuffix  = ":version"
)

// putScript writes the realtime key only when the incoming version is not
// older than the stored one. Observers run outside the registry lock, so two
// writes for one subject can arrive in either order.
//
// KEYS[1] realtime key, KEYS[2] version key
// ARGV[1] payload, ARGV[2] version, ARGV[3] ttl in milliseconds
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("mirror: subject not found")

// Realtime is the JSON stored under each subject's realtime key.
type Realtime struct {
	SubjectID   string   `json:"subject_id"`
	BPM         *float64 `json:"bpm"`
	TempC       *float64 `json:"temp_c"`
	StressIndex *float64 `json:"stress_index"`
	State       string   `json:"state"`
	PulseAt     *int64   `json:"ts_bpm"`  // unix seconds
	TempAt      *int64   `json:"ts_temp"` // unix seconds
	UpdatedAt   int64    `json:"updated_at"`
}

// Redis mirrors every accepted reading's subject record into Redis, so other
// services can read current state without calling the API.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewClient builds a go-redis client from cfg.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password(),
		DB:       cfg.DB,
	})
}

// New creates a mirror over client.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: keyPrefix, ttl: ttl, now: time.Now}
}

// Ping checks the connection.
func (m *Redis) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Key returns the realtime key for a subject.
func (m *Redis) Key(subjectID string) string {
	return m.prefix + subjectID + realtimeSuffix
}

// Observe writes the changed subject. Failures are logged, not returned.
func (m *Redis) Observe(ctx context.Context, ch store.Change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := m.Put(ctx, ch.Record); err != nil {
		slog.Warn("mirror: redis write failed", "subject", ch.Record.SubjectID, "err", err)
	}
}

// Put stores rec under its realtime key with the configured TTL. A record
// older than the one already mirrored is dropped, so the key never moves
// backwards in time.
func (m *Redis) Put(ctx context.Context, rec store.Record) error {
	data, err := json.Marshal(toRealtime(rec, m.now()))
	if err != nil {
		return fmt.Errorf("mirror: encode %q: %w", rec.SubjectID, err)
	}
	keys := []string{m.Key(rec.SubjectID), m.prefix + rec.SubjectID + versionSuffix}
	written, err := putScript.Run(ctx, m.client, keys, data, version(rec), m.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("mirror: set %q: %w", rec.SubjectID, err)
	}
	if written == 0 {
		slog.Debug("mirror: stale record skipped", "subject", rec.SubjectID)
	}
	return nil
}

// version orders records of one subject. Both reading timestamps only move
// forward, so their sum does too.
func version(rec store.Record) int64 {
	var v int64
	if rec.PulseAt != nil {
		v += rec.PulseAt.UnixMicro()
	}
	if rec.TempAt != nil {
		v += rec.TempAt.UnixMicro()
	}
	return v
}

// Get reads a subject's mirrored record.
func (m *Redis) Get(ctx context.Context, subjectID string) (Realtime, error) {
	data, err := m.client.Get(ctx, m.Key(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Realtime{}, ErrNotFound
	}
	if err != nil {
		return Realtime{}, fmt.Errorf("mirror: get %q: %w", subjectID, err)
	}
	var rt Realtime
	if err := json.Unmarshal(data, &rt); err != nil {
		return Realtime{}, fmt.Errorf("mirror: decode %q: %w", subjectID, err)
	}
	return rt, nil
}

func toRealtime(rec store.Record, now time.Time) Realtime {
	return Realtime{
		SubjectID:   rec.SubjectID,
		BPM:         rec.BPM,
		TempC:       rec.TempC,
		StressIndex: rec.StressIndex,
		State:       string(rec.State),
		PulseAt:     unix(rec.PulseAt),
		TempAt:      unix(rec.TempAt),
		UpdatedAt:   now.Unix(),
	}
}

func unix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}
