package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
)

// DefinedExpression 实现 defined 和 undefined, 判断字段或者变量是否存在
//
//	<if>
//	    <defined field="customer" />
//	    <subprocess ref="call_customer" />
//	</if>
//
// 查找顺序, 先命中的生效:
//  1. field-value / field: 工作项上有没有这个字段, 值是什么都算有
//  2. variable-value / variable: 变量的值不是 nil
//  3. field-match: 有没有字段名匹配这个正则
//  4. 都没有配置: false
//
// undefined 只对 1~3 算出来的结果取反, 第 4 种情况仍然是 false
type DefinedExpression struct {
	*FlowExpression
}

func NewDefinedExpression(base *FlowExpression) *DefinedExpression {
	return &DefinedExpression{FlowExpression: base}
}

func (e *DefinedExpression) Apply(ctx context.Context, workitem *Workitem) error {
	if err := e.markApplied(workitem); err != nil {
		return err
	}
	result, resolved := e.evaluate(workitem)
	if resolved && e.Name == ExpressionNameUndefined {
		result = !result
	}
	slog.DebugContext(ctx, fmt.Sprintf("[DefinedExpression.Apply] %s result is '%v', resolved: %v, fei: %s", e.Name, result, resolved, e.Fei))
	workitem.SetResult(result)
	return e.replyToParent(ctx, workitem)
}

// Reply 没有子表达式, 只有 Apply 会走到 replyToParent
func (e *DefinedExpression) Reply(ctx context.Context, workitem *Workitem) error {
	if err := e.checkApplied(workitem); err != nil {
		return err
	}
	return e.replyToParent(ctx, workitem)
}

// evaluate 第二个返回值表示属性有没有解析出一个明确的问题
func (e *DefinedExpression) evaluate(workitem *Workitem) (bool, bool) {
	l := e.lookup(workitem)
	fname, ok := l.lookupField(attributeSuffixValue)
	if !ok {
		fname, ok = l.lookupField("")
	}
	if ok {
		return workitem.HasField(fname), true
	}
	vname, ok := l.lookupVar(attributeSuffixValue)
	if !ok {
		vname, ok = l.lookupVar("")
	}
	if ok {
		_, found := l.variableValue(vname)
		return found, true
	}
	if pattern, ok := l.stringAttribute(attributeFieldMatch); ok {
		return fieldMatch(workitem, pattern), true
	}
	// 拿不准的时候回答 no
	return false, false
}

// fieldMatch 任意一个字段名匹配就是 true, 正则不合法当作不匹配
func fieldMatch(workitem *Workitem, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	for _, k := range workitem.fields().Keys() {
		if re.MatchString(k) {
			return true
		}
	}
	return false
}
