package flow

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// StorageConfig 存储和参与者的配置, yaml 和 json 都可以
//
//	backend: sqlite
//	sqlite_dsn: flow.db
//	participant:
//	  store_name: review
//	  max_retry_attempts: 20
type StorageConfig struct {
	Backend        string                     `json:"backend" yaml:"backend" validate:"required,oneof=memory sqlite bolt redis"`
	SqliteDSN      string                     `json:"sqlite_dsn" yaml:"sqlite_dsn" validate:"required_if=Backend sqlite"`
	BoltPath       string                     `json:"bolt_path" yaml:"bolt_path" validate:"required_if=Backend bolt"`
	RedisAddr      string                     `json:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB        int                        `json:"redis_db" yaml:"redis_db" validate:"gte=0"`
	RedisKeyPrefix string                     `json:"redis_key_prefix" yaml:"redis_key_prefix"`
	Participant    *StorageParticipantOptions `json:"participant" yaml:"participant"`
}

// LoadStorageConfig 解析并校验配置, json 是 yaml 的子集, 直接用 yaml 解析
func LoadStorageConfig(b []byte) (*StorageConfig, error) {
	cfg := &StorageConfig{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.WithMessage(err, "[LoadStorageConfig] unmarshal failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *StorageConfig) Validate() error {
	if err := validatorUtil.Struct(c); err != nil {
		return errors.Wrapf(ErrParamInvalid, "[StorageConfig.Validate] failed, err: %v", err)
	}
	if c.Participant != nil {
		if err := validatorUtil.Struct(c.Participant); err != nil {
			return errors.Wrapf(ErrParamInvalid, "[StorageConfig.Validate] participant invalid, err: %v", err)
		}
	}
	return nil
}

/*
*
  - @description: 按配置打开存储
  - @param ctx context.Context bolt 打开文件锁的超时取 ctx 的 deadline
  - @param cfg *StorageConfig
  - @return Storage
  - @return io.Closer 用完之后关闭底层连接/文件, memory 后端是空操作
  - @return error
*/
func OpenStorage(ctx context.Context, cfg *StorageConfig) (Storage, io.Closer, error) {
	if cfg == nil {
		return nil, nil, errors.WithMessage(ErrParamInvalid, "[OpenStorage] config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStorage(), closerFunc(func() error { return nil }), nil
	case BackendSqlite:
		db, err := gorm.Open(sqlite.Open(cfg.SqliteDSN), &gorm.Config{})
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "[OpenStorage] open sqlite failed, dsn: %s", cfg.SqliteDSN)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, errors.WithMessage(err, "[OpenStorage] get sql.DB failed")
		}
		if err := db.WithContext(ctx).AutoMigrate(&DocumentPo{}); err != nil {
			_ = sqlDB.Close()
			return nil, nil, errors.WithMessage(err, "[OpenStorage] migrate failed")
		}
		return NewGormStorage(db), sqlDB, nil
	case BackendBolt:
		s, err := OpenBoltStorage(ctx, cfg.BoltPath, 0600)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.WithMessagef(err, "[OpenStorage] ping redis failed, addr: %s", cfg.RedisAddr)
		}
		s := NewRedisStorage(client, cfg.RedisKeyPrefix)
		return s, s, nil
	}
	return nil, nil, errors.WithMessagef(ErrBackendUnknown, "[OpenStorage] backend: %s", cfg.Backend)
}

// OpenStorageParticipant 打开存储并创建参与者, 关闭 closer 之后参与者不能再用
func OpenStorageParticipant(ctx context.Context, cfg *StorageConfig, receiver WorkitemReceiver) (*StorageParticipant, io.Closer, error) {
	storage, closer, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	p, err := NewStorageParticipant(storage, receiver, cfg.Participant)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return p, closer, nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
