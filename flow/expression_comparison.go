package flow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Comparator 比较两个已经解析好的值
type Comparator func(a, b any) bool

// ComparisonExpression 比较表达式的公共部分, equals 之类的只需要提供 Comparator
//
//	<if>
//	    <equals field-value="customer_name" other-value="Dupont" />
//	    <participant ref="special_salesman" />
//	    <participant ref="ordinary_salesman" />
//	</if>
//
// 比较的结果写到 __result__, if 表达式读取它决定走哪个分支
type ComparisonExpression struct {
	*FlowExpression
	compare Comparator
}

func NewComparisonExpression(base *FlowExpression, compare Comparator) *ComparisonExpression {
	return &ComparisonExpression{FlowExpression: base, compare: compare}
}

// NewEqualsExpression equals: 两个值结构相等则为 true
func NewEqualsExpression(base *FlowExpression) *ComparisonExpression {
	return NewComparisonExpression(base, ValuesEqual)
}

// Apply 目前没有子表达式要处理, 直接 reply
func (e *ComparisonExpression) Apply(ctx context.Context, workitem *Workitem) error {
	if err := e.markApplied(workitem); err != nil {
		return err
	}
	return e.Reply(ctx, workitem)
}

func (e *ComparisonExpression) Reply(ctx context.Context, workitem *Workitem) error {
	if err := e.checkApplied(workitem); err != nil {
		return err
	}
	a, b := e.lookupValues(workitem)
	result := e.compare(a, b)
	slog.DebugContext(ctx, fmt.Sprintf("[ComparisonExpression.Reply] %s result is '%v', fei: %s", e.Name, result, e.Fei))
	workitem.SetResult(result)
	return e.replyToParent(ctx, workitem)
}

// lookupValues 找出要比较的两个值
// 只有一边找到时, 另一边用不带后缀的 variable/field 的值补上; 两边都没有就是 nil,nil
func (e *ComparisonExpression) lookupValues(workitem *Workitem) (any, any) {
	l := e.lookup(workitem)
	a, okA := l.lookupValue("")
	b, okB := l.lookupValue(attributePrefixOther)
	c, _ := l.lookupVariableOrFieldValue()
	if !okA && okB {
		a = c
	} else if okA && !okB {
		b = c
	}
	return a, b
}

// numericEquality 数字只比较数值, 3 和 3.0 相等, 不管来自 JSON 还是代码
var numericEquality = cmp.FilterValues(
	func(x, y any) bool {
		_, okX := toFloat64(x)
		_, okY := toFloat64(y)
		return okX && okY
	},
	cmp.Comparer(func(x, y any) bool {
		fx, _ := toFloat64(x)
		fy, _ := toFloat64(y)
		return fx == fy
	}),
)

// exportAll 变量可能是引擎传进来的任意结构体, 私有字段也参与比较, 否则 cmp 会 panic
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// ValuesEqual 结构相等, nil == nil 为 true
// 带 Equal 方法的类型(比如 time.Time)用 Equal 比较
func ValuesEqual(a, b any) bool {
	return cmp.Equal(a, b, numericEquality, exportAll)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
