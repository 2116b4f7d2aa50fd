package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testRedisAddrEnv 设置之后才跑 redis 相关的测试
const testRedisAddrEnv = "FLOW_TEST_REDIS_ADDR"

type storageFactory struct {
	name string
	// concurrent sqlite 文件库并发写会返回 database is locked, 不跑并发用例
	concurrent bool
	open       func(t *testing.T) Storage
}

func newTestGormStorage(t *testing.T) *GormStorage {
	t.Helper()
	// :memory: 在连接池里面每个连接是不同的库, 用临时文件
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "flow.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&DocumentPo{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewGormStorage(db)
}

func newTestBoltStorage(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := OpenBoltStorage(context.Background(), filepath.Join(t.TempDir(), "flow.bolt"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRedisStorage(t *testing.T) *RedisStorage {
	t.Helper()
	addr := os.Getenv(testRedisAddrEnv)
	if addr == "" {
		t.Skipf("%s not set", testRedisAddrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	prefix := "flowtest:" + uuid.NewString()
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})
	return NewRedisStorage(client, prefix)
}

func storageFactories() []storageFactory {
	return []storageFactory{
		{name: "memory", concurrent: true, open: func(t *testing.T) Storage { return NewMemoryStorage() }},
		{name: "gorm", open: func(t *testing.T) Storage { return newTestGormStorage(t) }},
		{name: "bolt", concurrent: true, open: func(t *testing.T) Storage { return newTestBoltStorage(t) }},
		{name: "redis", concurrent: true, open: func(t *testing.T) Storage { return newTestRedisStorage(t) }},
	}
}

func newTestDocument(id string, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{
		Type:   WorkitemsType,
		ID:     id,
		Wfid:   "wf",
		Fields: fields,
	}
}

func documentIDs(docs []*Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestStorageContract(t *testing.T) {
	for _, factory := range storageFactories() {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			t.Run("读取不存在的文档", func(t *testing.T) {
				s := factory.open(t)
				doc, err := s.Get(context.Background(), WorkitemsType, "nope")
				require.NoError(t, err)
				assert.Nil(t, doc)
			})

			t.Run("创建和读取", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				fei := &FlowExpressionID{Wfid: "wf", ExpID: "0_0"}
				doc := newTestDocument("a", map[string]any{"name": "Dupont", "amount": 12.5, "tags": []any{"x"}})
				doc.ParticipantName = "alice"
				doc.StoreName = "review"
				doc.Fei = fei
				require.NoError(t, s.Put(ctx, doc))
				require.NotEmpty(t, doc.Rev)

				// 调用方后面改了文档不影响存储
				doc.Fields["name"] = "changed"

				got, err := s.Get(ctx, WorkitemsType, "a")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, doc.Rev, got.Rev)
				assert.Equal(t, "alice", got.ParticipantName)
				assert.Equal(t, "review", got.StoreName)
				assert.Equal(t, "wf", got.Wfid)
				assert.Equal(t, fei, got.Fei)
				if diff := cmp.Diff(map[string]any{"name": "Dupont", "amount": 12.5, "tags": []any{"x"}}, got.Fields); diff != "" {
					t.Errorf("fields mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("重复创建是冲突", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				require.NoError(t, s.Put(ctx, newTestDocument("a", nil)))
				err := s.Put(ctx, newTestDocument("a", nil))
				require.Error(t, err)
				assert.True(t, IsConflict(err))
				var conflict *ConflictError
				require.True(t, errors.As(err, &conflict))
				assert.Equal(t, "a", conflict.ID)
			})

			t.Run("按revision更新", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				doc := newTestDocument("a", map[string]any{"v": 1.0})
				require.NoError(t, s.Put(ctx, doc))
				firstRev := doc.Rev

				stale := newTestDocument("a", map[string]any{"v": 3.0})
				stale.Rev = firstRev

				doc.Fields["v"] = 2.0
				require.NoError(t, s.Put(ctx, doc))
				assert.NotEqual(t, firstRev, doc.Rev)

				err := s.Put(ctx, stale)
				assert.True(t, IsConflict(err))

				got, err := s.Get(ctx, WorkitemsType, "a")
				require.NoError(t, err)
				assert.Equal(t, 2.0, got.Fields["v"])
				assert.Equal(t, doc.Rev, got.Rev)
			})

			t.Run("带revision写不存在的文档是冲突", func(t *testing.T) {
				s := factory.open(t)
				doc := newTestDocument("ghost", nil)
				doc.Rev = "1"
				assert.True(t, IsConflict(s.Put(context.Background(), doc)))
			})

			t.Run("删除", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				doc := newTestDocument("a", nil)
				require.NoError(t, s.Put(ctx, doc))
				stale := *doc
				require.NoError(t, s.Put(ctx, doc))

				err := s.Delete(ctx, &stale)
				assert.True(t, IsConflict(err))

				require.NoError(t, s.Delete(ctx, doc))
				got, err := s.Get(ctx, WorkitemsType, "a")
				require.NoError(t, err)
				assert.Nil(t, got)

				// 已经不存在了, 删除是幂等的
				assert.NoError(t, s.Delete(ctx, doc))
				assert.NoError(t, s.Delete(ctx, newTestDocument("never", nil)))
			})

			t.Run("删除之后重新创建不会复用revision", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				old := newTestDocument("a", map[string]any{"v": "old"})
				require.NoError(t, s.Put(ctx, old))
				stale, err := s.Get(ctx, WorkitemsType, "a")
				require.NoError(t, err)
				require.NoError(t, s.Delete(ctx, old))

				fresh := newTestDocument("a", map[string]any{"v": "new"})
				require.NoError(t, s.Put(ctx, fresh))
				assert.NotEqual(t, stale.Rev, fresh.Rev)

				stale.Fields["v"] = "stale"
				assert.True(t, IsConflict(s.Put(ctx, stale)))
				assert.True(t, IsConflict(s.Delete(ctx, stale)))

				got, err := s.Get(ctx, WorkitemsType, "a")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "new", got.Fields["v"])
				assert.Equal(t, fresh.Rev, got.Rev)

				// 再删一次再建, revision 仍然不重复
				require.NoError(t, s.Delete(ctx, fresh))
				again := newTestDocument("a", nil)
				require.NoError(t, s.Put(ctx, again))
				assert.NotEqual(t, fresh.Rev, again.Rev)
				assert.NotEqual(t, stale.Rev, again.Rev)
			})

			t.Run("按key批量查询", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				ids := []string{
					"wi!a_b!0!!wf1",
					"wi!aXb!0!!wf1",
					"wi!a_b!1!!wf2",
					"wi!0!!wf1",
					"wi!100%!0!!wf3",
				}
				for _, id := range ids {
					require.NoError(t, s.Put(ctx, newTestDocument(id, nil)))
				}
				other := newTestDocument("wi!a_b!9!!wf1", nil)
				other.Type = "expressions"
				require.NoError(t, s.Put(ctx, other))

				cases := []struct {
					name    string
					pattern *KeyPattern
					want    []string
				}{
					{"全部", nil, []string{"wi!0!!wf1", "wi!100%!0!!wf3", "wi!aXb!0!!wf1", "wi!a_b!0!!wf1", "wi!a_b!1!!wf2"}},
					{"前缀里的下划线不是通配符", KeyPrefix("wi!a_b!"), []string{"wi!a_b!0!!wf1", "wi!a_b!1!!wf2"}},
					{"前缀里的百分号不是通配符", KeyPrefix("wi!100%!"), []string{"wi!100%!0!!wf3"}},
					{"后缀", KeySuffix("!wf1"), []string{"wi!0!!wf1", "wi!aXb!0!!wf1", "wi!a_b!0!!wf1"}},
					{"前缀加后缀", &KeyPattern{Prefix: "wi!a_b!", Suffix: "!wf1"}, []string{"wi!a_b!0!!wf1"}},
					{"精确", &KeyPattern{Exact: "wi!aXb!0!!wf1"}, []string{"wi!aXb!0!!wf1"}},
					{"精确但是不存在", &KeyPattern{Exact: "wi!nope"}, []string{}},
					{"正则", &KeyPattern{Regexp: regexp.MustCompile(`^wi![a-z_]+!1!`)}, []string{"wi!a_b!1!!wf2"}},
				}
				for _, c := range cases {
					t.Run(c.name, func(t *testing.T) {
						docs, err := s.GetMany(ctx, WorkitemsType, c.pattern)
						require.NoError(t, err)
						assert.Equal(t, c.want, documentIDs(docs))
					})
				}

				docs, err := s.GetMany(ctx, "unknown", nil)
				require.NoError(t, err)
				assert.Empty(t, docs)
			})

			t.Run("并发更新只有一个成功", func(t *testing.T) {
				if !factory.concurrent {
					t.Skip("backend does not support concurrent writers in tests")
				}
				s := factory.open(t)
				ctx := context.Background()
				doc := newTestDocument("a", nil)
				require.NoError(t, s.Put(ctx, doc))

				const writers = 8
				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					succeeded int
					conflicts int
				)
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						d := newTestDocument("a", map[string]any{"writer": fmt.Sprint(i)})
						d.Rev = doc.Rev
						err := s.Put(ctx, d)
						mu.Lock()
						defer mu.Unlock()
						if err == nil {
							succeeded++
						} else if IsConflict(err) {
							conflicts++
						}
					}(i)
				}
				wg.Wait()
				assert.Equal(t, 1, succeeded)
				assert.Equal(t, writers-1, conflicts)
			})

			t.Run("索引查询", func(t *testing.T) {
				s := factory.open(t)
				ctx := context.Background()
				for i, name := range []string{"alice", "bob", "alice"} {
					doc := newTestDocument(fmt.Sprintf("wi!%d!!wf", i), map[string]any{"n": float64(i)})
					doc.ParticipantName = name
					require.NoError(t, s.Put(ctx, doc))
				}
				if idx, ok := s.(ParticipantIndex); ok {
					docs, err := idx.ByParticipant(ctx, WorkitemsType, "alice")
					require.NoError(t, err)
					assert.Equal(t, []string{"wi!0!!wf", "wi!2!!wf"}, documentIDs(docs))

					// 换了参与者之后旧的索引不再命中
					doc, err := s.Get(ctx, WorkitemsType, "wi!0!!wf")
					require.NoError(t, err)
					doc.ParticipantName = "bob"
					require.NoError(t, s.Put(ctx, doc))
					docs, err = idx.ByParticipant(ctx, WorkitemsType, "alice")
					require.NoError(t, err)
					assert.Equal(t, []string{"wi!2!!wf"}, documentIDs(docs))
				}
				if idx, ok := s.(FieldIndex); ok {
					docs, err := idx.ByField(ctx, WorkitemsType, "n", 1)
					require.NoError(t, err)
					assert.Equal(t, []string{"wi!1!!wf"}, documentIDs(docs))

					docs, err = idx.ByField(ctx, WorkitemsType, "n", nil)
					require.NoError(t, err)
					assert.Len(t, docs, 3)
				}
			})
		})
	}
}

func TestKeyPattern(t *testing.T) {
	var nilPattern *KeyPattern
	assert.True(t, nilPattern.Match("anything"))
	assert.Equal(t, "*", nilPattern.String())

	p := &KeyPattern{Prefix: "wi!", Suffix: "!wf", Regexp: regexp.MustCompile(`!0!`)}
	assert.True(t, p.Match("wi!0!!wf"))
	assert.False(t, p.Match("wi!1!!wf"))
	assert.False(t, p.Match("xx!0!!wf"))
	assert.Contains(t, p.String(), `prefix="wi!"`)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a|_b|%c||", escapeLike("a_b%c|"))
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}
