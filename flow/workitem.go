package flow

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Workitem 在流程树里面流转的工作单元
// Fei 由引擎分配, 创建之后不再修改; Rev 只有从存储里面取出来的工作项才有
type Workitem struct {
	Fei             FlowExpressionID `json:"fei"`
	ParticipantName string           `json:"participant_name,omitempty"`
	Fields          *JSONContext     `json:"fields"`
	Rev             string           `json:"_rev,omitempty"`
}

// NewWorkitem 创建工作项, fields 可以为空
func NewWorkitem(fei FlowExpressionID, fields map[string]any) *Workitem {
	return &Workitem{
		Fei:    fei,
		Fields: NewJSONContextFromMap(fields),
	}
}

// Wfid 工作项所属的流程实例ID
func (w *Workitem) Wfid() string {
	return w.Fei.Wfid
}

// HasField 顶层字段是否存在
func (w *Workitem) HasField(name string) bool {
	return w.fields().Has(name)
}

// Field 顶层字段的值
func (w *Workitem) Field(name string) (any, bool) {
	return w.fields().Get(name)
}

func (w *Workitem) SetField(name string, value any) {
	w.fields().Set([]string{name}, value)
}

// SetResult 写入 __result__
func (w *Workitem) SetResult(result any) {
	w.SetField(ResultField, result)
}

// Result 读取 __result__, 没有写过返回 nil,false
func (w *Workitem) Result() (any, bool) {
	return w.Field(ResultField)
}

// BoolResult if 之类的分支表达式用, 只有 true 才算 true
func (w *Workitem) BoolResult() bool {
	v, _ := w.Result()
	b, _ := v.(bool)
	return b
}

func (w *Workitem) fields() *JSONContext {
	if w.Fields == nil {
		w.Fields = NewJSONContextFromMap(nil)
	}
	return w.Fields
}

// Clone 深拷贝
func (w *Workitem) Clone() (*Workitem, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.WithMessagef(err, "marshal workitem failed, fei: %s", w.Fei)
	}
	ret := &Workitem{}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.WithMessagef(err, "unmarshal workitem failed, fei: %s", w.Fei)
	}
	if ret.Fields == nil {
		ret.Fields = NewJSONContextFromMap(nil)
	}
	return ret, nil
}
