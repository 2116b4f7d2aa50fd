package flow

import "context"

// Participant 流程树的叶子, 把工作项交给外部(人、服务、存储)处理
type Participant interface {
	/**
	 * @description: 引擎把工作项交给参与者
	 * @param ctx context.Context
	 * @param workitem *Workitem
	 * @return error
	 */
	Consume(ctx context.Context, workitem *Workitem) error
	/**
	 * @description: 流程被取消/超时, 参与者需要撤回手上的工作项
	 * @param ctx context.Context
	 * @param fei FlowExpressionID 工作项对应的表达式
	 * @param flavour CancelFlavour 取消方式
	 * @return error
	 */
	Cancel(ctx context.Context, fei FlowExpressionID, flavour CancelFlavour) error
	// DoNotThread 为 true 时引擎在当前 goroutine 里面同步调用 Consume
	DoNotThread() bool
}

// WorkitemReceiver 引擎接收参与者回复的入口
type WorkitemReceiver interface {
	ReplyToEngine(ctx context.Context, workitem *Workitem) error
}

// WorkitemReceiverFunc 函数适配成 WorkitemReceiver
type WorkitemReceiverFunc func(ctx context.Context, workitem *Workitem) error

func (f WorkitemReceiverFunc) ReplyToEngine(ctx context.Context, workitem *Workitem) error {
	return f(ctx, workitem)
}
