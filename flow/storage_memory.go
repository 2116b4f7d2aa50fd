package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// NewMemoryStorage 进程内的存储, 适合测试和单 worker 场景
// 文档按 JSON 保存, 读写都是拷贝, 调用方改了返回的文档不会影响存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		docs: make(map[string]map[string]memoryRecord),
	}
}

type MemoryStorage struct {
	mu   sync.RWMutex
	docs map[string]map[string]memoryRecord // type -> id -> record
	// seq 只增不减, 文档删除之后重新创建也不会复用旧的 revision
	seq uint64
}

type memoryRecord struct {
	rev  uint64
	data []byte
}

func (s *MemoryStorage) Get(ctx context.Context, typ string, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.docs[typ][id]
	if !ok {
		return nil, nil
	}
	return decodeMemoryRecord(record)
}

func (s *MemoryStorage) Put(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[MemoryStorage.Put] nil document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.docs[doc.Type]
	if !ok {
		byID = make(map[string]memoryRecord)
		s.docs[doc.Type] = byID
	}
	existing, exists := byID[doc.ID]
	if err := checkRevision(doc, existing.rev, exists); err != nil {
		return err
	}
	s.seq++
	rev := s.seq
	stored := *doc
	stored.Rev = formatRevision(rev)
	data, err := json.Marshal(&stored)
	if err != nil {
		return errors.WithMessagef(err, "[MemoryStorage.Put] marshal document failed, id: %s", doc.ID)
	}
	byID[doc.ID] = memoryRecord{rev: rev, data: data}
	doc.Rev = stored.Rev
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[MemoryStorage.Delete] nil document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.docs[doc.Type][doc.ID]
	if !exists {
		return nil
	}
	if doc.Rev != formatRevision(existing.rev) {
		return newConflictError(doc, formatRevision(existing.rev))
	}
	delete(s.docs[doc.Type], doc.ID)
	return nil
}

func (s *MemoryStorage) GetMany(ctx context.Context, typ string, pattern *KeyPattern) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*Document, 0)
	for id, record := range s.docs[typ] {
		if !pattern.Match(id) {
			continue
		}
		doc, err := decodeMemoryRecord(record)
		if err != nil {
			return nil, err
		}
		ret = append(ret, doc)
	}
	return ret, nil
}

// Size 某个类型的文档数量
func (s *MemoryStorage) Size(typ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[typ])
}

func decodeMemoryRecord(record memoryRecord) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(record.data, doc); err != nil {
		return nil, errors.WithMessage(err, "unmarshal document failed")
	}
	return doc, nil
}

// checkRevision 整数 revision 的后端共用的检查
// 新建(rev 为空)要求文档不存在, 更新要求 rev 一致
func checkRevision(doc *Document, currentRev uint64, exists bool) error {
	if doc.Rev == "" {
		if exists {
			return newConflictError(doc, formatRevision(currentRev))
		}
		return nil
	}
	if !exists {
		return newConflictError(doc, "")
	}
	if doc.Rev != formatRevision(currentRev) {
		return newConflictError(doc, formatRevision(currentRev))
	}
	return nil
}

func formatRevision(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}

// ByField 在存储内部过滤, 参与者不用再自己扫一遍
func (s *MemoryStorage) ByField(ctx context.Context, typ string, field string, value any) ([]*Document, error) {
	docs, err := s.GetMany(ctx, typ, nil)
	if err != nil {
		return nil, err
	}
	return filterByField(docs, field, value), nil
}

// filterByField 字段存在, value 不为 nil 时还要求相等
func filterByField(docs []*Document, field string, value any) []*Document {
	ret := make([]*Document, 0)
	for _, doc := range docs {
		v, ok := doc.Fields[field]
		if !ok {
			continue
		}
		if value != nil && !ValuesEqual(v, value) {
			continue
		}
		ret = append(ret, doc)
	}
	return ret
}
