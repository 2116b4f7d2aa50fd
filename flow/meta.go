package flow

import "github.com/pkg/errors"

var (
	ErrParamInvalid             = errors.New("param invalid")
	ErrExpressionNotFound       = errors.New("flow expression not found")
	ErrExpressionAlreadyApplied = errors.New("flow expression already applied")
	ErrExpressionNotApplied     = errors.New("flow expression not applied")
	ErrExpressionNoParent       = errors.New("flow expression has no parent")
	ErrWorkitemNil              = errors.New("workitem is nil")
	// ErrStorageConflict 乐观锁冲突, 文档的 revision 已经被别人改过了
	// 后端返回的 *ConflictError 都可以用 errors.Is(err, ErrStorageConflict) 判断
	ErrStorageConflict = errors.New("storage optimistic concurrency conflict")
	// ErrRetryExhausted 冲突重试次数用完了, 说明竞争一直没有收敛
	ErrRetryExhausted = errors.New("storage conflict retry exhausted")
	// ErrReceiverNotSet 参与者没有配置回复引擎的接收方
	ErrReceiverNotSet = errors.New("workitem receiver not set")
	ErrBackendUnknown = errors.New("storage backend unknown")
)

const (
	// ResultField 谓词表达式写结果的保留字段, 分支表达式(if 等)读取这个字段
	ResultField = "__result__"
	// WorkitemsType 存储参与者保存的文档类型, 固定值
	WorkitemsType = "workitems"
	// keySeparator storage key 的分隔符
	keySeparator = "!"
	// workitemKeyPrefix storage key 的第一段
	workitemKeyPrefix = "wi"
	// DefaultMaxRetryAttempts cancel/reply 冲突重试的默认最大次数
	DefaultMaxRetryAttempts = 100
)

// ExpressionName 表达式在流程定义里面的标签名
type ExpressionName = string

const (
	ExpressionNameEquals    ExpressionName = "equals"
	ExpressionNameDefined   ExpressionName = "defined"
	ExpressionNameUndefined ExpressionName = "undefined"
)

// ExpressionState 单个表达式实例的状态, CREATED -> APPLIED -> REPLIED
type ExpressionState = string

const (
	ExpressionStateCreated ExpressionState = "created"
	ExpressionStateApplied ExpressionState = "applied"
	ExpressionStateReplied ExpressionState = "replied"
)

func GetExpressionStateText(state ExpressionState) string {
	switch state {
	case ExpressionStateCreated:
		return "已创建"
	case ExpressionStateApplied:
		return "已应用"
	case ExpressionStateReplied:
		return "已回复"
	}
	return "未知"
}

// CancelFlavour 取消的方式, 对存储参与者来说都是删除文档
type CancelFlavour = string

const (
	CancelFlavourPlain   CancelFlavour = ""
	CancelFlavourKill    CancelFlavour = "kill"
	CancelFlavourTimeout CancelFlavour = "timeout"
)

// 表达式属性的简写组, 顺序就是查找顺序, 先匹配到的优先
var (
	valueAttributeNames    = []string{"value", "val"}
	fieldAttributeNames    = []string{"field", "f"}
	variableAttributeNames = []string{"variable", "var", "v"}
)

const (
	attributeSuffixValue = "value"
	attributePrefixOther = "other"
	attributeFieldMatch  = "field-match"
)

// IsConflict 判断是不是乐观锁冲突
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageConflict)
}
