package flow

import (
	"context"

	"github.com/pkg/errors"
)

// ReplyHandler 接收回复的一方: 父表达式或者引擎
type ReplyHandler interface {
	Reply(ctx context.Context, workitem *Workitem) error
}

// ReplyHandlerFunc 函数适配成 ReplyHandler
type ReplyHandlerFunc func(ctx context.Context, workitem *Workitem) error

func (f ReplyHandlerFunc) Reply(ctx context.Context, workitem *Workitem) error {
	return f(ctx, workitem)
}

// Expression 流程树上的一个节点
//
//	Apply 由父节点或者引擎调用, 只调用一次
//	Reply 把工作项交回父节点, 这是表达式唯一对外可见的副作用
type Expression interface {
	ReplyHandler
	Apply(ctx context.Context, workitem *Workitem) error
	Base() *FlowExpression
}

// ExpressionDefinition 解析之后的流程定义节点, 解析器不在这个包里面
type ExpressionDefinition struct {
	Name       ExpressionName          `json:"name" yaml:"name" validate:"required"`
	Attributes map[string]any          `json:"attributes" yaml:"attributes"`
	Children   []*ExpressionDefinition `json:"children" yaml:"children"`
}

// FlowExpression 表达式的公共部分: 身份、属性、子节点和状态
type FlowExpression struct {
	Fei        FlowExpressionID
	Name       ExpressionName
	Attributes Attributes
	Children   []*ExpressionDefinition
	Parent     ReplyHandler
	Variables  VariableScope
	state      ExpressionState
}

func (e *FlowExpression) Base() *FlowExpression {
	return e
}

func (e *FlowExpression) State() ExpressionState {
	if e.state == "" {
		return ExpressionStateCreated
	}
	return e.state
}

// markApplied CREATED -> APPLIED
func (e *FlowExpression) markApplied(workitem *Workitem) error {
	if workitem == nil {
		return errors.WithMessagef(ErrWorkitemNil, "apply failed, fei: %s", e.Fei)
	}
	if e.State() != ExpressionStateCreated {
		return errors.WithMessagef(ErrExpressionAlreadyApplied, "apply failed, fei: %s, expression: %s, state: %s", e.Fei, e.Name, e.State())
	}
	e.state = ExpressionStateApplied
	return nil
}

// checkApplied reply 之前必须已经 apply 过
func (e *FlowExpression) checkApplied(workitem *Workitem) error {
	if workitem == nil {
		return errors.WithMessagef(ErrWorkitemNil, "reply failed, fei: %s", e.Fei)
	}
	if e.State() != ExpressionStateApplied {
		return errors.WithMessagef(ErrExpressionNotApplied, "reply failed, fei: %s, expression: %s, state: %s", e.Fei, e.Name, e.State())
	}
	return nil
}

// replyToParent APPLIED -> REPLIED, 然后把工作项交给父节点
func (e *FlowExpression) replyToParent(ctx context.Context, workitem *Workitem) error {
	if e.Parent == nil {
		return errors.WithMessagef(ErrExpressionNoParent, "reply to parent failed, fei: %s", e.Fei)
	}
	e.state = ExpressionStateReplied
	if err := e.Parent.Reply(ctx, workitem); err != nil {
		return errors.WithMessagef(err, "parent reply failed, fei: %s", e.Fei)
	}
	return nil
}

func (e *FlowExpression) lookup(workitem *Workitem) attributeLookup {
	return attributeLookup{
		attrs:     e.Attributes,
		workitem:  workitem,
		variables: e.Variables,
	}
}
