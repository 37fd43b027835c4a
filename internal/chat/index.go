package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Index maintains each user's chat list.
type Index interface {
	Touch(ctx context.Context, m *Message) error
	ChatList(ctx context.Context, userID int) ([]ChatEntry, error)
}

// StoreIndex derives chat lists from the message store on every read.
type StoreIndex struct {
	repo *Repository
}

func NewStoreIndex(repo *Repository) *StoreIndex {
	return &StoreIndex{repo: repo}
}

func (i *StoreIndex) Touch(context.Context, *Message) error { return nil }

func (i *StoreIndex) ChatList(ctx context.Context, userID int) ([]ChatEntry, error) {
	return i.repo.ChatList(ctx, userID)
}

const (
	chatListTTL = 24 * time.Hour
	builtTTL    = time.Hour
)

// RedisIndex keeps chats:{user} as a sorted set of counterpart ids scored by
// the last message timestamp in microseconds. chats:{user}:built marks a set
// that has been merged with the store; without it the next read rebuilds.
//
// A failed Touch cannot be trusted to have removed the markers, since Redis
// is usually the thing that failed. The affected users are kept in dirty
// until a rebuild succeeds, and their reads bypass the marker meanwhile.
type RedisIndex struct {
	rdb  *redis.Client
	repo *Repository
	dir  Directory
	log  zerolog.Logger

	mu    sync.Mutex
	gen   uint64
	dirty map[int]uint64
}

func NewRedisIndex(rdb *redis.Client, repo *Repository, dir Directory, log zerolog.Logger) *RedisIndex {
	return &RedisIndex{
		rdb:   rdb,
		repo:  repo,
		dir:   dir,
		log:   log.With().Str("component", "chat_index").Logger(),
		dirty: make(map[int]uint64),
	}
}

func chatsKey(userID int) string { return fmt.Sprintf("chats:{%d}", userID) }
func builtKey(userID int) string { return fmt.Sprintf("chats:{%d}:built", userID) }

func (i *RedisIndex) Touch(ctx context.Context, m *Message) error {
	score := float64(m.CreatedAt.UnixMicro())

	pipe := i.rdb.TxPipeline()
	pipe.ZAddGT(ctx, chatsKey(m.SenderID), redis.Z{Score: score, Member: strconv.Itoa(m.RecipientID)})
	pipe.Expire(ctx, chatsKey(m.SenderID), chatListTTL)
	pipe.ZAddGT(ctx, chatsKey(m.RecipientID), redis.Z{Score: score, Member: strconv.Itoa(m.SenderID)})
	pipe.Expire(ctx, chatsKey(m.RecipientID), chatListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		// Force both lists to be rebuilt from the store on next read.
		i.markDirty(m.SenderID, m.RecipientID)
		if derr := i.rdb.Del(ctx, builtKey(m.SenderID), builtKey(m.RecipientID)).Err(); derr != nil {
			i.log.Error().Err(derr).Msg("drop chat list markers")
		}
		return fmt.Errorf("touch chat index: %w", err)
	}
	return nil
}

func (i *RedisIndex) markDirty(userIDs ...int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gen++
	for _, id := range userIDs {
		i.dirty[id] = i.gen
	}
}

// dirtyGen reports the generation of the last failed touch for userID, or 0.
func (i *RedisIndex) dirtyGen(userID int) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dirty[userID]
}

// clearDirty forgets userID unless another touch failed after gen was read.
func (i *RedisIndex) clearDirty(userID int, gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dirty[userID] == gen {
		delete(i.dirty, userID)
	}
}

func (i *RedisIndex) ChatList(ctx context.Context, userID int) ([]ChatEntry, error) {
	if gen := i.dirtyGen(userID); gen != 0 {
		return i.rebuild(ctx, userID, gen)
	}

	n, err := i.rdb.Exists(ctx, builtKey(userID)).Result()
	if err != nil {
		i.log.Warn().Err(err).Int("user_id", userID).Msg("chat index unavailable, reading store")
		return i.repo.ChatList(ctx, userID)
	}
	if n == 0 {
		return i.rebuild(ctx, userID, 0)
	}

	zs, err := i.rdb.ZRevRangeWithScores(ctx, chatsKey(userID), 0, -1).Result()
	if err != nil {
		i.log.Warn().Err(err).Int("user_id", userID).Msg("chat index unavailable, reading store")
		return i.repo.ChatList(ctx, userID)
	}

	type scored struct {
		id int
		at time.Time
	}
	members := make([]scored, 0, len(zs))
	ids := make([]int, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		members = append(members, scored{id: id, at: time.UnixMicro(int64(z.Score)).UTC()})
		ids = append(ids, id)
	}
	names, err := i.dir.Usernames(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]ChatEntry, 0, len(members))
	for _, sm := range members {
		name, ok := names[sm.id]
		if !ok {
			continue
		}
		entries = append(entries, ChatEntry{
			UserID:        sm.id,
			Username:      name,
			LastMessageAt: sm.at,
		})
	}
	return entries, nil
}

// rebuild merges the store's view into the set. ZADD GT keeps any newer
// score a concurrent Touch wrote in the meantime. gen is the dirty
// generation observed before the store was read.
func (i *RedisIndex) rebuild(ctx context.Context, userID int, gen uint64) ([]ChatEntry, error) {
	entries, err := i.repo.ChatList(ctx, userID)
	if err != nil {
		return nil, err
	}

	pipe := i.rdb.TxPipeline()
	if len(entries) > 0 {
		zs := make([]redis.Z, len(entries))
		for idx, e := range entries {
			zs[idx] = redis.Z{Score: float64(e.LastMessageAt.UnixMicro()), Member: strconv.Itoa(e.UserID)}
		}
		pipe.ZAddGT(ctx, chatsKey(userID), zs...)
		pipe.Expire(ctx, chatsKey(userID), chatListTTL)
	}
	pipe.Set(ctx, builtKey(userID), "1", builtTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		i.log.Warn().Err(err).Int("user_id", userID).Msg("rebuild chat index")
		return entries, nil
	}
	if gen != 0 {
		i.clearDirty(userID, gen)
	}
	return entries, nil
}
