package markers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps markers in Redis so they survive process restarts and
// are shared by all workers handling webhooks for the same user.
//
// Atomicity:
//   - primary admission uses SET NX (single atomic command)
//   - conditional clears and updates use Lua so the read-check-write cannot
//     interleave with a competing handler
type RedisStore struct {
	rdb *redis.Client

	// markerTTL bounds how long any marker may outlive its session. It is a
	// backstop against leaked state, not a business timeout.
	markerTTL time.Duration
}

func NewRedisStore(rdb *redis.Client, markerTTL time.Duration) *RedisStore {
	if markerTTL <= 0 {
		markerTTL = 30 * time.Minute
	}
	return &RedisStore{rdb: rdb, markerTTL: markerTTL}
}

func primaryKey(userID string) string    { return "dialer:" + userID + ":primary" }
func secondaryKey(userID string) string  { return "dialer:" + userID + ":secondary" }
func conferenceKey(userID string) string { return "dialer:" + userID + ":conference" }
func seenKey(userID, event string) string {
	return "dialer:" + userID + ":seen:" + event
}

var clearPrimaryScript = redis.NewScript(`
-- KEYS[1] = primary key
-- ARGV[1] = expected call_id ("" = unconditional)
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
if ARGV[1] ~= '' then
  local m = cjson.decode(v)
  if m.call_id ~= ARGV[1] then
    return 0
  end
end
redis.call('DEL', KEYS[1])
return 1
`)

var markBridgedScript = redis.NewScript(`
-- KEYS[1] = primary key
-- ARGV[1] = expected call_id
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local m = cjson.decode(v)
if m.call_id ~= ARGV[1] then
  return 0
end
m.in_conference = true
redis.call('SET', KEYS[1], cjson.encode(m), 'KEEPTTL')
return 1
`)

func (s *RedisStore) ClaimPrimary(ctx context.Context, userID string, m PrimaryCall) (bool, error) {
	if userID == "" || m.CallID == "" || m.LineID == "" {
		return false, ErrInvalidArgument
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, primaryKey(userID), payload, s.markerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("markers: claim primary: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) GetPrimary(ctx context.Context, userID string) (PrimaryCall, bool, error) {
	raw, err := s.rdb.Get(ctx, primaryKey(userID)).Bytes()
	if err == redis.Nil {
		return PrimaryCall{}, false, nil
	}
	if err != nil {
		return PrimaryCall{}, false, fmt.Errorf("markers: get primary: %w", err)
	}
	var m PrimaryCall
	if err := json.Unmarshal(raw, &m); err != nil {
		return PrimaryCall{}, false, err
	}
	return m, true, nil
}

func (s *RedisStore) ClearPrimary(ctx context.Context, userID, callID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidArgument
	}
	res, err := clearPrimaryScript.Run(ctx, s.rdb, []string{primaryKey(userID)}, callID).Int()
	if err != nil {
		return false, fmt.Errorf("markers: clear primary: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) MarkPrimaryBridged(ctx context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidArgument
	}
	_, err := markBridgedScript.Run(ctx, s.rdb, []string{primaryKey(userID)}, callID).Int()
	if err != nil {
		return fmt.Errorf("markers: mark bridged: %w", err)
	}
	return nil
}

func (s *RedisStore) PutSecondary(ctx context.Context, userID string, m SecondaryCall) error {
	if userID == "" || m.LineID == "" || m.CallID == "" {
		return ErrInvalidArgument
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := secondaryKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, m.LineID, payload)
	pipe.Expire(ctx, key, s.markerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("markers: put secondary: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSecondary(ctx context.Context, userID, lineID string) (SecondaryCall, bool, error) {
	raw, err := s.rdb.HGet(ctx, secondaryKey(userID), lineID).Bytes()
	if err == redis.Nil {
		return SecondaryCall{}, false, nil
	}
	if err != nil {
		return SecondaryCall{}, false, fmt.Errorf("markers: get secondary: %w", err)
	}
	var m SecondaryCall
	if err := json.Unmarshal(raw, &m); err != nil {
		return SecondaryCall{}, false, err
	}
	return m, true, nil
}

func (s *RedisStore) DeleteSecondary(ctx context.Context, userID, lineID string) error {
	if err := s.rdb.HDel(ctx, secondaryKey(userID), lineID).Err(); err != nil {
		return fmt.Errorf("markers: delete secondary: %w", err)
	}
	return nil
}

func (s *RedisStore) ListSecondaries(ctx context.Context, userID string) ([]SecondaryCall, error) {
	raw, err := s.rdb.HGetAll(ctx, secondaryKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("markers: list secondaries: %w", err)
	}
	out := make([]SecondaryCall, 0, len(raw))
	for _, v := range raw {
		var m SecondaryCall
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			// Skip corrupt entries; cleanup paths will clear them.
			continue
		}
		out = append(out, m)
	}
	SortByLine(out)
	return out, nil
}

func (s *RedisStore) PutConference(ctx context.Context, userID string, d Conference, ttl time.Duration) error {
	if userID == "" || d.Name == "" {
		return ErrInvalidArgument
	}
	if ttl <= 0 {
		ttl = s.markerTTL
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, conferenceKey(userID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("markers: put conference: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConference(ctx context.Context, userID string) (Conference, bool, error) {
	raw, err := s.rdb.Get(ctx, conferenceKey(userID)).Bytes()
	if err == redis.Nil {
		return Conference{}, false, nil
	}
	if err != nil {
		return Conference{}, false, fmt.Errorf("markers: get conference: %w", err)
	}
	var d Conference
	if err := json.Unmarshal(raw, &d); err != nil {
		return Conference{}, false, err
	}
	return d, true, nil
}

func (s *RedisStore) DeleteConference(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, conferenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("markers: delete conference: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	keys := []string{primaryKey(userID), secondaryKey(userID), conferenceKey(userID)}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("markers: clear user: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkEventSeen(ctx context.Context, userID, eventKey string, ttl time.Duration) (bool, error) {
	if userID == "" || eventKey == "" {
		return false, ErrInvalidArgument
	}
	if ttl <= 0 {
		ttl = s.markerTTL
	}
	first, err := s.rdb.SetNX(ctx, seenKey(userID, eventKey), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("markers: mark event seen: %w", err)
	}
	return first, nil
}
