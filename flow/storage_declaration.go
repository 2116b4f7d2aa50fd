package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Document 存储里面的一条文档
// Rev 由存储在写入成功时分配, 下一次 Put/Delete 同一个文档时必须带上
type Document struct {
	Type            string            `json:"type"`
	ID              string            `json:"_id"`
	Rev             string            `json:"_rev,omitempty"`
	ParticipantName string            `json:"participant_name,omitempty"`
	Wfid            string            `json:"wfid"`
	StoreName       string            `json:"store_name,omitempty"`
	Fei             *FlowExpressionID `json:"fei,omitempty"`
	Fields          map[string]any    `json:"fields"`
}

// ToWorkitem 把文档还原成工作项
func (d *Document) ToWorkitem() *Workitem {
	wi := &Workitem{
		ParticipantName: d.ParticipantName,
		Fields:          NewJSONContextFromMap(d.Fields),
		Rev:             d.Rev,
	}
	if d.Fei != nil {
		wi.Fei = *d.Fei
	}
	return wi
}

func (d *Document) isNew() bool {
	return d.Rev == ""
}

// KeyPattern GetMany 的 key 匹配条件, 各个条件之间是 AND, nil 表示全部
type KeyPattern struct {
	Exact  string
	Prefix string
	Suffix string
	Regexp *regexp.Regexp
}

// Match key 是否满足全部条件
func (p *KeyPattern) Match(key string) bool {
	if p == nil {
		return true
	}
	if p.Exact != "" && key != p.Exact {
		return false
	}
	if p.Prefix != "" && !strings.HasPrefix(key, p.Prefix) {
		return false
	}
	if p.Suffix != "" && !strings.HasSuffix(key, p.Suffix) {
		return false
	}
	if p.Regexp != nil && !p.Regexp.MatchString(key) {
		return false
	}
	return true
}

// KeyPrefix 前缀匹配
func KeyPrefix(prefix string) *KeyPattern {
	return &KeyPattern{Prefix: prefix}
}

// KeySuffix 后缀匹配
func KeySuffix(suffix string) *KeyPattern {
	return &KeyPattern{Suffix: suffix}
}

func (p *KeyPattern) String() string {
	if p == nil {
		return "*"
	}
	re := ""
	if p.Regexp != nil {
		re = p.Regexp.String()
	}
	return fmt.Sprintf("exact=%q prefix=%q suffix=%q regexp=%q", p.Exact, p.Prefix, p.Suffix, re)
}

// Storage 带乐观锁的文档存储, 引擎和 worker 共用
//
// 所有实现都必须可以并发使用
type Storage interface {
	// Get 找不到返回 nil,nil
	Get(ctx context.Context, typ string, id string) (*Document, error)
	// Put 创建或覆盖文档
	//  doc.Rev 为空表示创建, 文档已经存在时返回 *ConflictError
	//  doc.Rev 不为空时必须和存储里面的一致, 否则返回 *ConflictError
	//  成功后 doc.Rev 被更新为新的 revision
	Put(ctx context.Context, doc *Document) error
	// Delete 删除文档
	//  文档已经不存在: 返回 nil, 删除是幂等的
	//  doc.Rev 和存储里面的不一致: 返回 *ConflictError
	Delete(ctx context.Context, doc *Document) error
	// GetMany pattern 为 nil 时返回这个类型的全部文档, 不保证顺序
	GetMany(ctx context.Context, typ string, pattern *KeyPattern) ([]*Document, error)
}

// ParticipantIndex 后端支持按参与者名字的索引查询
type ParticipantIndex interface {
	ByParticipant(ctx context.Context, typ string, participantName string) ([]*Document, error)
}

// FieldIndex 后端支持按字段的索引查询, value 为 nil 时只要求字段存在
type FieldIndex interface {
	ByField(ctx context.Context, typ string, field string, value any) ([]*Document, error)
}

var (
	_ Storage          = (*MemoryStorage)(nil)
	_ FieldIndex       = (*MemoryStorage)(nil)
	_ Storage          = (*GormStorage)(nil)
	_ ParticipantIndex = (*GormStorage)(nil)
	_ Storage          = (*BoltStorage)(nil)
	_ Storage          = (*RedisStorage)(nil)
	_ ParticipantIndex = (*RedisStorage)(nil)
)

// ConflictError 乐观锁冲突, 文档在读取之后被别人修改或者删除了
type ConflictError struct {
	Type string
	ID   string
	// CurrentRev 存储里面现在的 revision, 文档已经不存在时为空
	CurrentRev string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("optimistic concurrency conflict, type: %s, id: %s, current rev: %q", e.Type, e.ID, e.CurrentRev)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrStorageConflict
}

func newConflictError(doc *Document, currentRev string) *ConflictError {
	return &ConflictError{Type: doc.Type, ID: doc.ID, CurrentRev: currentRev}
}
