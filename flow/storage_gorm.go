package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// DocumentPo 文档表, (type, id) 是主键
// 删除是软删除, 行留下来当墓碑, rev 在同一个 key 上一直递增, 重新创建不会复用旧的 rev
type DocumentPo struct {
	Type            string         `gorm:"column:type;primaryKey;size:64"`
	ID              string         `gorm:"column:id;primaryKey;size:512"`
	Rev             int64          `gorm:"column:rev"`
	ParticipantName string         `gorm:"column:participant_name;index:idx_document_participant;size:255"`
	Wfid            string         `gorm:"column:wfid;index:idx_document_wfid;size:255"`
	StoreName       string         `gorm:"column:store_name;size:255"`
	Fei             []byte         `gorm:"column:fei"`
	Fields          []byte         `gorm:"column:fields"` // 工作项字段, JSON
	CreatedAt       int64          `gorm:"column:created_at"`
	UpdatedAt       int64          `gorm:"column:updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (DocumentPo) TableName() string {
	return "flow_document"
}

// NewGormStorage 基于 gorm 的存储, 表需要调用方自己 AutoMigrate(&DocumentPo{})
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

type GormStorage struct {
	db *gorm.DB
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
	// likeEscape LIKE 的转义字符, key 里面的 '!' 太多了, 不能用
	likeEscape = "|"
)

func (r *GormStorage) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

// Transaction 已经在事务里面就直接执行, 否则开一个新事务
func (r *GormStorage) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(transactionContextKey) != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, transactionContextKey, tx))
	})
}

func (r *GormStorage) Get(ctx context.Context, typ string, id string) (*Document, error) {
	pos := make([]*DocumentPo, 0, 1)
	err := r.GetDBWithContext(ctx).Model(&DocumentPo{}).
		Where("type = ? AND id = ?", typ, id).
		Limit(1).
		Find(&pos).Error
	if err != nil {
		return nil, errors.WithMessagef(err, "[GormStorage.Get] query failed, type: %s, id: %s", typ, id)
	}
	if len(pos) == 0 {
		return nil, nil
	}
	return pos[0].toDocument()
}

func (r *GormStorage) Put(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[GormStorage.Put] nil document")
	}
	po, err := newDocumentPo(doc)
	if err != nil {
		return err
	}
	var newRev int64
	err = r.Transaction(ctx, func(ctx context.Context) error {
		current, exists, hasRow, err := r.currentRevision(ctx, doc.Type, doc.ID)
		if err != nil {
			return err
		}
		if err := checkRevision(doc, uint64(current), exists); err != nil {
			return err
		}
		now := time.Now().Unix()
		if !hasRow {
			po.Rev = 1
			po.CreatedAt = now
			po.UpdatedAt = now
			if err := r.GetDBWithContext(ctx).Create(po).Error; err != nil {
				return errors.WithMessagef(err, "[GormStorage.Put] create failed, id: %s", doc.ID)
			}
			newRev = po.Rev
			return nil
		}
		values := map[string]any{
			"rev":              current + 1,
			"participant_name": po.ParticipantName,
			"wfid":             po.Wfid,
			"store_name":       po.StoreName,
			"fei":              po.Fei,
			"fields":           po.Fields,
			"updated_at":       now,
			"deleted_at":       nil,
		}
		if !exists {
			// 在墓碑上重新创建
			values["created_at"] = now
		}
		result := r.GetDBWithContext(ctx).Unscoped().Model(&DocumentPo{}).
			Where("type = ? AND id = ? AND rev = ?", doc.Type, doc.ID, current).
			Updates(values)
		if result.Error != nil {
			return errors.WithMessagef(result.Error, "[GormStorage.Put] update failed, id: %s", doc.ID)
		}
		if result.RowsAffected == 0 {
			return newConflictError(doc, formatRevision(uint64(current)))
		}
		newRev = current + 1
		return nil
	})
	if err != nil {
		if IsConflict(err) || !doc.isNew() {
			return err
		}
		// 并发创建时主键冲突, 再查一次确认是不是被别人抢先写了
		if current, exists, _, qErr := r.currentRevision(ctx, doc.Type, doc.ID); qErr == nil && exists {
			return newConflictError(doc, formatRevision(uint64(current)))
		}
		return err
	}
	doc.Rev = formatRevision(uint64(newRev))
	return nil
}

func (r *GormStorage) Delete(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("[GormStorage.Delete] nil document")
	}
	rev, err := strconv.ParseInt(doc.Rev, 10, 64)
	if err != nil {
		rev = -1
	}
	// 软删除的同时 rev+1, 拿着删除前 rev 的写入都会冲突
	result := r.GetDBWithContext(ctx).Model(&DocumentPo{}).
		Where("type = ? AND id = ? AND rev = ?", doc.Type, doc.ID, rev).
		Updates(map[string]any{
			"rev":        gorm.Expr("rev + 1"),
			"updated_at": time.Now().Unix(),
			"deleted_at": time.Now(),
		})
	if result.Error != nil {
		return errors.WithMessagef(result.Error, "[GormStorage.Delete] delete failed, id: %s", doc.ID)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	current, exists, _, err := r.currentRevision(ctx, doc.Type, doc.ID)
	if err != nil {
		return err
	}
	if !exists {
		// 已经被删掉了
		return nil
	}
	return newConflictError(doc, formatRevision(uint64(current)))
}

func (r *GormStorage) GetMany(ctx context.Context, typ string, pattern *KeyPattern) ([]*Document, error) {
	db := r.GetDBWithContext(ctx).Model(&DocumentPo{}).Where("type = ?", typ)
	if pattern != nil {
		if pattern.Exact != "" {
			db = db.Where("id = ?", pattern.Exact)
		}
		if pattern.Prefix != "" {
			db = db.Where("id LIKE ? ESCAPE '"+likeEscape+"'", escapeLike(pattern.Prefix)+"%")
		}
		if pattern.Suffix != "" {
			db = db.Where("id LIKE ? ESCAPE '"+likeEscape+"'", "%"+escapeLike(pattern.Suffix))
		}
	}
	return r.find(db, pattern)
}

// ByParticipant participant_name 上有索引
func (r *GormStorage) ByParticipant(ctx context.Context, typ string, participantName string) ([]*Document, error) {
	db := r.GetDBWithContext(ctx).Model(&DocumentPo{}).
		Where("type = ? AND participant_name = ?", typ, participantName)
	return r.find(db, nil)
}

// find LIKE 在有的数据库里面大小写不敏感, 查出来之后再用 pattern 精确过滤一次
func (r *GormStorage) find(db *gorm.DB, pattern *KeyPattern) ([]*Document, error) {
	pos := make([]*DocumentPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "[GormStorage.find] query failed")
	}
	ret := make([]*Document, 0, len(pos))
	for _, po := range pos {
		if !pattern.Match(po.ID) {
			continue
		}
		doc, err := po.toDocument()
		if err != nil {
			return nil, err
		}
		ret = append(ret, doc)
	}
	return ret, nil
}

// currentRevision 返回 rev, 文档是否存在, 以及是否有行(包括墓碑)
func (r *GormStorage) currentRevision(ctx context.Context, typ string, id string) (int64, bool, bool, error) {
	pos := make([]*DocumentPo, 0, 1)
	err := r.GetDBWithContext(ctx).Unscoped().Model(&DocumentPo{}).
		Select("rev", "deleted_at").
		Where("type = ? AND id = ?", typ, id).
		Limit(1).
		Find(&pos).Error
	if err != nil {
		return 0, false, false, errors.WithMessagef(err, "[GormStorage.currentRevision] query failed, id: %s", id)
	}
	if len(pos) == 0 {
		return 0, false, false, nil
	}
	return pos[0].Rev, !pos[0].DeletedAt.Valid, true, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

func newDocumentPo(doc *Document) (*DocumentPo, error) {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, errors.WithMessagef(err, "marshal fields failed, id: %s", doc.ID)
	}
	var fei []byte
	if doc.Fei != nil {
		fei, err = json.Marshal(doc.Fei)
		if err != nil {
			return nil, errors.WithMessagef(err, "marshal fei failed, id: %s", doc.ID)
		}
	}
	return &DocumentPo{
		Type:            doc.Type,
		ID:              doc.ID,
		ParticipantName: doc.ParticipantName,
		Wfid:            doc.Wfid,
		StoreName:       doc.StoreName,
		Fei:             fei,
		Fields:          fields,
	}, nil
}

func (po *DocumentPo) toDocument() (*Document, error) {
	doc := &Document{
		Type:            po.Type,
		ID:              po.ID,
		Rev:             formatRevision(uint64(po.Rev)),
		ParticipantName: po.ParticipantName,
		Wfid:            po.Wfid,
		StoreName:       po.StoreName,
		Fields:          make(map[string]any),
	}
	if len(po.Fields) > 0 {
		if err := json.Unmarshal(po.Fields, &doc.Fields); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal fields failed, id: %s", po.ID)
		}
		if doc.Fields == nil {
			doc.Fields = make(map[string]any)
		}
	}
	if len(po.Fei) > 0 {
		fei := &FlowExpressionID{}
		if err := json.Unmarshal(po.Fei, fei); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal fei failed, id: %s", po.ID)
		}
		doc.Fei = fei
	}
	return doc, nil
}
