package flow

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FlowExpressionID 流程实例里面一个表达式实例的唯一标识
//
//	Wfid  流程实例ID
//	ExpID 表达式在流程树里面的路径, 比如 "0_1_0"
//	SubID 同一个表达式被多次应用时(循环、并发)用来区分
//
// 三个字段都不能包含 "!", 这是 storage id 的分隔符
type FlowExpressionID struct {
	Wfid  string `json:"wfid" yaml:"wfid" validate:"required,excludes=!"`
	ExpID string `json:"expid" yaml:"expid" validate:"required,excludes=!"`
	SubID string `json:"subid" yaml:"subid" validate:"excludes=!"`
}

// NewWfid 生成一个新的流程实例ID
func NewWfid() string {
	return uuid.NewString()
}

// StorageID 稳定的字符串编码, 与字段顺序无关: expid!subid!wfid
// wfid 放在最后, 按 wfid 查询时只需要做后缀匹配
func (f FlowExpressionID) StorageID() string {
	return strings.Join([]string{f.ExpID, f.SubID, f.Wfid}, keySeparator)
}

func (f FlowExpressionID) String() string {
	return f.StorageID()
}

// Validate 校验 fei, 不合法的 fei 会让 storage key 产生歧义
func (f FlowExpressionID) Validate() error {
	if err := validatorUtil.Struct(f); err != nil {
		return errors.Wrapf(ErrParamInvalid, "invalid flow expression id: %s, err: %v", f.StorageID(), err)
	}
	return nil
}

// Child 返回第 i 个子表达式的 fei
func (f FlowExpressionID) Child(i int) FlowExpressionID {
	return FlowExpressionID{
		Wfid:  f.Wfid,
		ExpID: f.ExpID + "_" + strconv.Itoa(i),
		SubID: f.SubID,
	}
}
