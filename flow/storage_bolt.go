package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// documentBucketKey 根 bucket, 下面每个文档类型一个子 bucket, key 是文档 _id
var documentBucketKey = []byte("documents")

// OpenBoltStorage 打开(不存在则创建)一个 bbolt 文件作为存储
func OpenBoltStorage(ctx context.Context, path string, mode os.FileMode) (*BoltStorage, error) {
	if mode == 0 {
		mode = 0600
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	opts := *bbolt.DefaultOptions
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
	} else {
		opts.Timeout = 5 * time.Second
	}
	db, err := bbolt.Open(path, mode, &opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "[OpenBoltStorage] open failed, path: %s", path)
	}
	return NewBoltStorage(db), nil
}

// NewBoltStorage 使用已经打开的 db, Close 会关闭它
func NewBoltStorage(db *bbolt.DB) *BoltStorage {
	return &BoltStorage{db: db}
}

type BoltStorage struct {
	db *bbolt.DB
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func (s *BoltStorage) Get(ctx context.Context, typ string, id string) (*Document, error) {
	var doc *Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := typeBucket(tx, typ)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var err error
		doc, err = decodeBoltDocument(data)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "[BoltStorage.Get] failed, type: %s, id: %s", typ, id)
	}
	return doc, nil
}

func (s *BoltStorage) Put(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[BoltStorage.Put] nil document")
	}
	var newRev string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(documentBucketKey)
		if err != nil {
			return err
		}
		b, err := root.CreateBucketIfNotExists([]byte(doc.Type))
		if err != nil {
			return err
		}
		current, exists, err := boltRevision(b, doc.ID)
		if err != nil {
			return err
		}
		if err := checkRevision(doc, current, exists); err != nil {
			return err
		}
		// bucket 的 sequence 跟着 bucket 持久化, 删除文档不会让它回退
		rev, err := b.NextSequence()
		if err != nil {
			return err
		}
		stored := *doc
		stored.Rev = formatRevision(rev)
		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(doc.ID), data); err != nil {
			return err
		}
		newRev = stored.Rev
		return nil
	})
	if err != nil {
		if IsConflict(err) {
			return err
		}
		return errors.WithMessagef(err, "[BoltStorage.Put] failed, id: %s", doc.ID)
	}
	doc.Rev = newRev
	return nil
}

func (s *BoltStorage) Delete(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[BoltStorage.Delete] nil document")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := typeBucket(tx, doc.Type)
		if b == nil {
			return nil
		}
		current, exists, err := boltRevision(b, doc.ID)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if doc.Rev != formatRevision(current) {
			return newConflictError(doc, formatRevision(current))
		}
		return b.Delete([]byte(doc.ID))
	})
	if err != nil {
		if IsConflict(err) {
			return err
		}
		return errors.WithMessagef(err, "[BoltStorage.Delete] failed, id: %s", doc.ID)
	}
	return nil
}

// GetMany 有前缀时用 cursor.Seek, 不用扫整个 bucket
func (s *BoltStorage) GetMany(ctx context.Context, typ string, pattern *KeyPattern) ([]*Document, error) {
	ret := make([]*Document, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := typeBucket(tx, typ)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		var prefix []byte
		if pattern != nil && pattern.Prefix != "" {
			prefix = []byte(pattern.Prefix)
			k, v = c.Seek(prefix)
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if prefix != nil && !bytes.HasPrefix(k, prefix) {
				break
			}
			if !pattern.Match(string(k)) {
				continue
			}
			doc, err := decodeBoltDocument(v)
			if err != nil {
				return err
			}
			ret = append(ret, doc)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "[BoltStorage.GetMany] failed, type: %s, pattern: %s", typ, pattern)
	}
	return ret, nil
}

func typeBucket(tx *bbolt.Tx, typ string) *bbolt.Bucket {
	root := tx.Bucket(documentBucketKey)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(typ))
}

func boltRevision(b *bbolt.Bucket, id string) (uint64, bool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return 0, false, nil
	}
	doc, err := decodeBoltDocument(data)
	if err != nil {
		return 0, false, err
	}
	rev, err := strconv.ParseUint(doc.Rev, 10, 64)
	if err != nil {
		return 0, false, errors.WithMessagef(err, "bad revision %q, id: %s", doc.Rev, id)
	}
	return rev, true, nil
}

// decodeBoltDocument bbolt 返回的字节只在事务内有效, json.Unmarshal 会拷贝
func decodeBoltDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.WithMessage(err, "unmarshal document failed")
	}
	return doc, nil
}
