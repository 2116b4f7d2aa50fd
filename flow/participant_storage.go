package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// StorageParticipantOptions 存储参与者的配置
type StorageParticipantOptions struct {
	// StoreName 分区名, 为空时不分区, 能看到所有分区的工作项
	StoreName string `json:"store_name" yaml:"store_name" validate:"excludes=!"`
	// MaxRetryAttempts cancel/reply 遇到冲突时最多尝试几次, 0 使用 DefaultMaxRetryAttempts
	MaxRetryAttempts int `json:"max_retry_attempts" yaml:"max_retry_attempts" validate:"gte=0"`
}

// StorageParticipant 不把工作项转给外部, 而是存到引擎和 worker 共用的存储里面
// 外部处理完之后调用 Reply, 删除存储里面的副本并把工作项交回引擎
//
// 存储的 key: wi[!<store_name>]!<expid>!<subid>!<wfid>
type StorageParticipant struct {
	storage          Storage
	receiver         WorkitemReceiver
	storeName        string
	maxRetryAttempts int
	// 构造时探测一次, nil 表示后端不支持, 走全量扫描
	participantIndex ParticipantIndex
	fieldIndex       FieldIndex
}

var _ Participant = (*StorageParticipant)(nil)

/*
*
  - @description: 创建存储参与者
  - @param storage Storage 共享的文档存储
  - @param receiver WorkitemReceiver 引擎, Reply 时把工作项交给它, 只做查询时可以为 nil
  - @param opts *StorageParticipantOptions 可以为 nil
  - @return *StorageParticipant, error
*/
func NewStorageParticipant(storage Storage, receiver WorkitemReceiver, opts *StorageParticipantOptions) (*StorageParticipant, error) {
	if storage == nil {
		return nil, errors.WithMessage(ErrParamInvalid, "NewStorageParticipant failed, storage is nil")
	}
	if opts == nil {
		opts = &StorageParticipantOptions{}
	}
	if err := validatorUtil.Struct(opts); err != nil {
		return nil, errors.Wrapf(ErrParamInvalid, "NewStorageParticipant failed, opts: %+v, err: %v", opts, err)
	}
	p := &StorageParticipant{
		storage:          storage,
		receiver:         receiver,
		storeName:        opts.StoreName,
		maxRetryAttempts: opts.MaxRetryAttempts,
	}
	if p.maxRetryAttempts == 0 {
		p.maxRetryAttempts = DefaultMaxRetryAttempts
	}
	if idx, ok := storage.(ParticipantIndex); ok {
		p.participantIndex = idx
	}
	if idx, ok := storage.(FieldIndex); ok {
		p.fieldIndex = idx
	}
	return p, nil
}

func (p *StorageParticipant) StoreName() string {
	return p.storeName
}

// DoNotThread 只是一次存储读写, 不需要单独的 goroutine
func (p *StorageParticipant) DoNotThread() bool {
	return true
}

// Consume 把工作项写入存储
// 工作项带着 Rev 时覆盖已有的文档, 冲突直接返回错误, 这里不重试
func (p *StorageParticipant) Consume(ctx context.Context, workitem *Workitem) error {
	if workitem == nil {
		return errors.WithMessage(ErrWorkitemNil, "[StorageParticipant.Consume] failed")
	}
	if err := workitem.Fei.Validate(); err != nil {
		return errors.WithMessage(err, "[StorageParticipant.Consume] failed")
	}
	fei := workitem.Fei
	doc := &Document{
		Type:            WorkitemsType,
		ID:              p.toID(fei),
		Rev:             workitem.Rev,
		ParticipantName: workitem.ParticipantName,
		Wfid:            fei.Wfid,
		StoreName:       p.storeName,
		Fei:             &fei,
		Fields:          workitem.fields().ToMap(),
	}
	if err := p.storage.Put(ctx, doc); err != nil {
		return errors.WithMessagef(err, "[StorageParticipant.Consume] put failed, id: %s", doc.ID)
	}
	workitem.Rev = doc.Rev
	return nil
}

// Update 和 Consume 一样, 给外部处理过程中保存中间结果用
func (p *StorageParticipant) Update(ctx context.Context, workitem *Workitem) error {
	return p.Consume(ctx, workitem)
}

// Cancel 从存储里面删除工作项, 冲突时重新读取再删
func (p *StorageParticipant) Cancel(ctx context.Context, fei FlowExpressionID, flavour CancelFlavour) error {
	if err := p.deleteWithRetry(ctx, fei); err != nil {
		return errors.WithMessagef(err, "[StorageParticipant.Cancel] failed, fei: %s, flavour: %q", fei, flavour)
	}
	return nil
}

// Reply 外部处理完成: 删除存储里面的副本, 去掉 Rev, 交回引擎
func (p *StorageParticipant) Reply(ctx context.Context, workitem *Workitem) error {
	if workitem == nil {
		return errors.WithMessage(ErrWorkitemNil, "[StorageParticipant.Reply] failed")
	}
	if p.receiver == nil {
		return errors.WithMessagef(ErrReceiverNotSet, "[StorageParticipant.Reply] failed, fei: %s", workitem.Fei)
	}
	if err := p.deleteWithRetry(ctx, workitem.Fei); err != nil {
		return errors.WithMessagef(err, "[StorageParticipant.Reply] failed, fei: %s", workitem.Fei)
	}
	workitem.Rev = ""
	if err := p.receiver.ReplyToEngine(ctx, workitem); err != nil {
		return errors.WithMessagef(err, "[StorageParticipant.Reply] reply to engine failed, fei: %s", workitem.Fei)
	}
	return nil
}

// deleteWithRetry 读取最新的文档再删除, 冲突说明读取之后文档被改过了, 重新来
// 文档已经不存在就算成功
func (p *StorageParticipant) deleteWithRetry(ctx context.Context, fei FlowExpressionID) error {
	for attempt := 1; attempt <= p.maxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.WithMessagef(err, "context done, attempt: %d", attempt)
		}
		doc, err := p.Fetch(ctx, fei)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		err = p.storage.Delete(ctx, doc)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return errors.WithMessagef(err, "delete failed, id: %s", doc.ID)
		}
		slog.WarnContext(ctx, fmt.Sprintf("[StorageParticipant.deleteWithRetry] conflict, retrying, id: %s, attempt: %d, err: %v", doc.ID, attempt, err))
	}
	return errors.WithMessagef(ErrRetryExhausted, "fei: %s, attempts: %d", fei, p.maxRetryAttempts)
}

// Fetch 按 fei 读取原始文档, 不存在返回 nil,nil
func (p *StorageParticipant) Fetch(ctx context.Context, fei FlowExpressionID) (*Document, error) {
	doc, err := p.storage.Get(ctx, WorkitemsType, p.toID(fei))
	if err != nil {
		return nil, errors.WithMessagef(err, "[StorageParticipant.Fetch] get failed, fei: %s", fei)
	}
	return doc, nil
}

// Get 按 fei 读取工作项, 不存在返回 nil,nil
func (p *StorageParticipant) Get(ctx context.Context, fei FlowExpressionID) (*Workitem, error) {
	doc, err := p.Fetch(ctx, fei)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.ToWorkitem(), nil
}

// Size 当前分区里面的工作项数量
func (p *StorageParticipant) Size(ctx context.Context) (int, error) {
	docs, err := p.fetchAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Each 遍历当前分区的工作项, fn 返回错误时停止
func (p *StorageParticipant) Each(ctx context.Context, fn func(workitem *Workitem) error) error {
	workitems, err := p.All(ctx)
	if err != nil {
		return err
	}
	for _, wi := range workitems {
		if err := fn(wi); err != nil {
			return err
		}
	}
	return nil
}

// All 当前分区的全部工作项, 顺序由存储决定
func (p *StorageParticipant) All(ctx context.Context) ([]*Workitem, error) {
	docs, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return toWorkitems(docs), nil
}

// First 测试的时候方便, 返回任意一个(通常是唯一的)工作项
func (p *StorageParticipant) First(ctx context.Context) (*Workitem, error) {
	docs, err := p.fetchAll(ctx)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0].ToWorkitem(), nil
}

// ByWfid 一个流程实例的全部工作项, storage id 以 !<wfid> 结尾
func (p *StorageParticipant) ByWfid(ctx context.Context, wfid string) ([]*Workitem, error) {
	if wfid == "" || strings.Contains(wfid, keySeparator) {
		return nil, errors.Wrapf(ErrParamInvalid, "[StorageParticipant.ByWfid] invalid wfid: %q", wfid)
	}
	pattern := p.partitionPattern()
	pattern.Suffix = keySeparator + wfid
	docs, err := p.storage.GetMany(ctx, WorkitemsType, pattern)
	if err != nil {
		return nil, errors.WithMessagef(err, "[StorageParticipant.ByWfid] get many failed, wfid: %s", wfid)
	}
	return toWorkitems(docs), nil
}

// ByParticipant 后端有索引就用索引, 否则全量扫描再过滤
func (p *StorageParticipant) ByParticipant(ctx context.Context, participantName string) ([]*Workitem, error) {
	if p.participantIndex != nil {
		docs, err := p.participantIndex.ByParticipant(ctx, WorkitemsType, participantName)
		if err != nil {
			return nil, errors.WithMessagef(err, "[StorageParticipant.ByParticipant] index query failed, participant: %s", participantName)
		}
		return toWorkitems(p.inPartition(docs)), nil
	}
	docs, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]*Workitem, 0)
	for _, doc := range docs {
		if doc.ParticipantName == participantName {
			ret = append(ret, doc.ToWorkitem())
		}
	}
	return ret, nil
}

// ByField 有这个字段的工作项, value 不为 nil 时还要求字段的值相等
// 只有部分后端支持索引, 其他的会读出全部工作项再过滤
func (p *StorageParticipant) ByField(ctx context.Context, field string, value any) ([]*Workitem, error) {
	if p.fieldIndex != nil {
		docs, err := p.fieldIndex.ByField(ctx, WorkitemsType, field, value)
		if err != nil {
			return nil, errors.WithMessagef(err, "[StorageParticipant.ByField] index query failed, field: %s", field)
		}
		return toWorkitems(p.inPartition(docs)), nil
	}
	docs, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return toWorkitems(filterByField(docs, field, value)), nil
}

// Purge 清空当前分区, 不做冲突重试, 单个文档失败不影响其他文档
func (p *StorageParticipant) Purge(ctx context.Context) error {
	docs, err := p.fetchAll(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, doc := range docs {
		if err := p.storage.Delete(ctx, doc); err != nil {
			slog.ErrorContext(ctx, fmt.Sprintf("[StorageParticipant.Purge] delete failed, id: %s, err: %v", doc.ID, err))
			errs = multierr.Append(errs, errors.WithMessagef(err, "delete failed, id: %s", doc.ID))
		}
	}
	if errs != nil {
		return errors.WithMessagef(errs, "[StorageParticipant.Purge] %d of %d deletes failed", len(multierr.Errors(errs)), len(docs))
	}
	return nil
}

func (p *StorageParticipant) fetchAll(ctx context.Context) ([]*Document, error) {
	docs, err := p.storage.GetMany(ctx, WorkitemsType, p.partitionPattern())
	if err != nil {
		return nil, errors.WithMessagef(err, "[StorageParticipant.fetchAll] get many failed, store name: %q", p.storeName)
	}
	return docs, nil
}

// partitionPrefix 不分区时是 "wi!", 匹配所有分区
func (p *StorageParticipant) partitionPrefix() string {
	if p.storeName == "" {
		return workitemKeyPrefix + keySeparator
	}
	return workitemKeyPrefix + keySeparator + p.storeName + keySeparator
}

// partitionedKey 分区的 key 是 wi!<store>!<expid>!<subid>!<wfid>, 比不分区的 key 多一段
// 只看前缀的话, expid 恰好等于 store name 的不分区 key 也会被当成分区内的
var partitionedKey = regexp.MustCompile(`^[^!]*(?:![^!]*){4}$`)

// partitionPattern 当前分区的 key 条件, 不分区时匹配所有分区
func (p *StorageParticipant) partitionPattern() *KeyPattern {
	pattern := KeyPrefix(p.partitionPrefix())
	if p.storeName != "" {
		pattern.Regexp = partitionedKey
	}
	return pattern
}

func (p *StorageParticipant) inPartition(docs []*Document) []*Document {
	pattern := p.partitionPattern()
	ret := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		if pattern.Match(doc.ID) {
			ret = append(ret, doc)
		}
	}
	return ret
}

// toID wi[!<store_name>]!<storage id>
func (p *StorageParticipant) toID(fei FlowExpressionID) string {
	parts := []string{workitemKeyPrefix}
	if p.storeName != "" {
		parts = append(parts, p.storeName)
	}
	parts = append(parts, fei.StorageID())
	return strings.Join(parts, keySeparator)
}

func toWorkitems(docs []*Document) []*Workitem {
	ret := make([]*Workitem, 0, len(docs))
	for _, doc := range docs {
		ret = append(ret, doc.ToWorkitem())
	}
	return ret
}
