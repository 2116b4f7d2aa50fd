package flow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "flow"
	redisScanCount        = 200
)

// NewRedisStorage 基于 redis 的存储
// 乐观锁用 WATCH/MULTI 实现, revision 是每次写入生成的 uuid
// 每个参与者名字维护一个 set 作为索引, 所以支持 ByParticipant
func NewRedisStorage(redisClient redis.UniversalClient, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisStorage{redisClient: redisClient, keyPrefix: keyPrefix}
}

type RedisStorage struct {
	redisClient redis.UniversalClient
	keyPrefix   string
}

func (s *RedisStorage) Close() error {
	return s.redisClient.Close()
}

func (s *RedisStorage) docKey(typ string, id string) string {
	return s.typePrefix(typ) + id
}

func (s *RedisStorage) typePrefix(typ string) string {
	return s.keyPrefix + ":doc:" + typ + ":"
}

func (s *RedisStorage) participantKey(typ string, participantName string) string {
	return s.keyPrefix + ":idx:participant:" + typ + ":" + participantName
}

func (s *RedisStorage) Get(ctx context.Context, typ string, id string) (*Document, error) {
	doc, err := s.get(ctx, s.redisClient, s.docKey(typ, id))
	if err != nil {
		return nil, errors.WithMessagef(err, "[RedisStorage.Get] failed, type: %s, id: %s", typ, id)
	}
	return doc, nil
}

func (s *RedisStorage) get(ctx context.Context, c redis.Cmdable, key string) (*Document, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.WithMessagef(err, "unmarshal document failed, key: %s", key)
	}
	return doc, nil
}

func (s *RedisStorage) Put(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[RedisStorage.Put] nil document")
	}
	key := s.docKey(doc.Type, doc.ID)
	newRev := uuid.NewString()
	err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		currentRev := ""
		if current != nil {
			currentRev = current.Rev
		}
		if doc.Rev != currentRev {
			return newConflictError(doc, currentRev)
		}
		stored := *doc
		stored.Rev = newRev
		data, err := json.Marshal(&stored)
		if err != nil {
			return errors.WithMessagef(err, "marshal document failed, id: %s", doc.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if current != nil && current.ParticipantName != doc.ParticipantName {
				pipe.SRem(ctx, s.participantKey(doc.Type, current.ParticipantName), doc.ID)
			}
			pipe.SAdd(ctx, s.participantKey(doc.Type, doc.ParticipantName), doc.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// WATCH 的 key 在 EXEC 之前被改了
			return newConflictError(doc, "")
		}
		if IsConflict(err) {
			return err
		}
		return errors.WithMessagef(err, "[RedisStorage.Put] failed, id: %s", doc.ID)
	}
	doc.Rev = newRev
	return nil
}

func (s *RedisStorage) Delete(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[RedisStorage.Delete] nil document")
	}
	key := s.docKey(doc.Type, doc.ID)
	err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if current.Rev != doc.Rev {
			return newConflictError(doc, current.Rev)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.participantKey(doc.Type, current.ParticipantName), doc.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return newConflictError(doc, "")
		}
		if IsConflict(err) {
			return err
		}
		return errors.WithMessagef(err, "[RedisStorage.Delete] failed, id: %s", doc.ID)
	}
	return nil
}

// GetMany 用 SCAN MATCH 缩小范围, 结果再用 pattern 精确过滤
func (s *RedisStorage) GetMany(ctx context.Context, typ string, pattern *KeyPattern) ([]*Document, error) {
	prefix := s.typePrefix(typ)
	match := escapeGlob(prefix) + "*"
	if pattern != nil {
		if pattern.Exact != "" {
			doc, err := s.Get(ctx, typ, pattern.Exact)
			if err != nil {
				return nil, err
			}
			if doc == nil || !pattern.Match(doc.ID) {
				return []*Document{}, nil
			}
			return []*Document{doc}, nil
		}
		match = escapeGlob(prefix+pattern.Prefix) + "*"
		if pattern.Suffix != "" {
			match += escapeGlob(pattern.Suffix)
		}
	}
	ret := make([]*Document, 0)
	iter := s.redisClient.Scan(ctx, 0, match, redisScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !pattern.Match(strings.TrimPrefix(key, prefix)) {
			continue
		}
		doc, err := s.get(ctx, s.redisClient, key)
		if err != nil {
			return nil, errors.WithMessagef(err, "[RedisStorage.GetMany] get failed, key: %s", key)
		}
		if doc == nil {
			// scan 和 get 之间被删掉了
			continue
		}
		ret = append(ret, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.WithMessagef(err, "[RedisStorage.GetMany] scan failed, match: %s", match)
	}
	return ret, nil
}

func (s *RedisStorage) ByParticipant(ctx context.Context, typ string, participantName string) ([]*Document, error) {
	ids, err := s.redisClient.SMembers(ctx, s.participantKey(typ, participantName)).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "[RedisStorage.ByParticipant] smembers failed, participant: %s", participantName)
	}
	ret := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		if doc == nil || doc.ParticipantName != participantName {
			continue
		}
		ret = append(ret, doc)
	}
	return ret, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
