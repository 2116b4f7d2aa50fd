package flow

import (
	"github.com/pkg/errors"
)

// expressionConstructor 根据公共部分构造具体的表达式
type expressionConstructor func(base *FlowExpression) Expression

// expressionConstructors 标签名 -> 构造函数, 包初始化时就确定, 运行时不再修改
var expressionConstructors = map[ExpressionName]expressionConstructor{
	ExpressionNameEquals: func(base *FlowExpression) Expression {
		return NewEqualsExpression(base)
	},
	ExpressionNameDefined: func(base *FlowExpression) Expression {
		return NewDefinedExpression(base)
	},
	ExpressionNameUndefined: func(base *FlowExpression) Expression {
		return NewDefinedExpression(base)
	},
}

// IsKnownExpression 标签名有没有对应的表达式
func IsKnownExpression(name ExpressionName) bool {
	_, ok := expressionConstructors[name]
	return ok
}

// NewExpressionParams 构造表达式实例的参数
type NewExpressionParams struct {
	Fei        FlowExpressionID
	Definition *ExpressionDefinition `validate:"required"`
	Parent     ReplyHandler          `validate:"required"`
	Variables  VariableScope
}

/*
*
  - @description: 根据流程定义节点创建表达式实例
    属性名会先规范化('_' -> '-'), 之后的查找都按规范化后的名字
  - @param params *NewExpressionParams
  - @return Expression, error
*/
func NewExpression(params *NewExpressionParams) (Expression, error) {
	if params == nil {
		return nil, errors.WithMessage(ErrParamInvalid, "NewExpression failed, params is nil")
	}
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrParamInvalid, "NewExpression failed, params: %v, err: %v", params, err)
	}
	if err := params.Fei.Validate(); err != nil {
		return nil, errors.WithMessage(err, "NewExpression failed")
	}
	constructor, ok := expressionConstructors[params.Definition.Name]
	if !ok {
		return nil, errors.WithMessagef(ErrExpressionNotFound, "NewExpression failed, name: %s, fei: %s", params.Definition.Name, params.Fei)
	}
	base := &FlowExpression{
		Fei:        params.Fei,
		Name:       params.Definition.Name,
		Attributes: NormalizeAttributes(params.Definition.Attributes),
		Children:   params.Definition.Children,
		Parent:     params.Parent,
		Variables:  params.Variables,
		state:      ExpressionStateCreated,
	}
	return constructor(base), nil
}
