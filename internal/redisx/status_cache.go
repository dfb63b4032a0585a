package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/redis/go-redis/v9"
)

// setIfNewer writes ARGV[1] unless the cached entry carries a version >= ARGV[2].
var setIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, c = pcall(cjson.decode, cur)
	if ok and c.v and tonumber(c.v) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1`)

// cachedStatus is the stored form; V is UpdatedAt in microseconds so Lua
// can compare it without losing precision.
type cachedStatus struct {
	V int64 `json:"v"`
	prescriptions.StatusSnapshot
}

// StatusCache keeps the last committed status of each prescription.
type StatusCache struct {
	rdb redis.Cmdable
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache { return &StatusCache{rdb: rdb} }

func (c *StatusCache) GetStatus(ctx context.Context, prescriptionID int64) (*prescriptions.StatusSnapshot, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyPrescriptionStatus, prescriptionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s cachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode cached status %d: %w", prescriptionID, err)
	}
	return &s.StatusSnapshot, nil
}

// SetStatus stores s unless a snapshot with the same or a later UpdatedAt is
// already cached.
func (c *StatusCache) SetStatus(ctx context.Context, prescriptionID int64, s prescriptions.StatusSnapshot) error {
	v := s.UpdatedAt.UnixMicro()
	b, err := json.Marshal(cachedStatus{V: v, StatusSnapshot: s})
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyPrescriptionStatus, prescriptionID)
	return setIfNewer.Run(ctx, c.rdb, []string{key}, b, v, TTLStatusCache.Milliseconds()).Err()
}
