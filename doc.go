// Package flow 提供流程引擎里面的两块基础能力。
//
// 一是流程树上的谓词表达式(equals / defined / undefined)，二是把工作项停放在共享存储里面
// 等待外部处理的存储参与者(StorageParticipant)。
//
// 主要特性：
//   - 谓词表达式：按属性简写(field/f、variable/var/v、value/val)查找操作数，结果写到 __result__
//   - 状态机：表达式只能 apply 一次，apply 之后才能 reply
//   - 乐观锁存储：每个文档带 revision，写入和删除时检查，冲突返回 ConflictError
//   - 多种后端：内存、GORM(SQLite/MySQL/PostgreSQL)、bbolt、Redis
//   - 分区：多个参与者可以共用一个存储，按 store_name 隔离
//
// 表达式使用示例:
//
//	parent := flow.ReplyHandlerFunc(func(ctx context.Context, wi *flow.Workitem) error {
//	    fmt.Println("equals:", wi.BoolResult())
//	    return nil
//	})
//	fei := flow.FlowExpressionID{Wfid: flow.NewWfid(), ExpID: "0_0"}
//	exp, _ := flow.NewExpression(&flow.NewExpressionParams{
//	    Fei: fei,
//	    Definition: &flow.ExpressionDefinition{
//	        Name:       flow.ExpressionNameEquals,
//	        Attributes: map[string]any{"field-value": "customer_name", "other-value": "Dupont"},
//	    },
//	    Parent: parent,
//	})
//	exp.Apply(ctx, flow.NewWorkitem(fei, map[string]any{"customer_name": "Dupont"}))
//
// 存储参与者使用示例:
//
//	cfg, _ := flow.LoadStorageConfig([]byte("backend: sqlite\nsqlite_dsn: flow.db\nparticipant:\n  store_name: review\n"))
//	participant, closer, _ := flow.OpenStorageParticipant(ctx, cfg, engine)
//	defer closer.Close()
//
//	// 引擎: 工作项交给参与者, 存进数据库
//	participant.Consume(ctx, workitem)
//
//	// 外部 worker: 找到自己的工作项, 处理完交回引擎
//	workitems, _ := participant.ByParticipant(ctx, "alice")
//	workitems[0].SetField("approved", true)
//	participant.Reply(ctx, workitems[0])
//
// 存储 key 的格式：
//
//	wi[!<store_name>]!<expid>!<subid>!<wfid>
//
// wfid 在最后，ByWfid 是后缀匹配；store_name 在前面，分区查询是前缀匹配，
// 同时要求 key 有五段，expid 恰好等于 store_name 的不分区 key 不会混进分区。
// revision 在同一个 key 上不会重复，文档删除之后重新创建也一样。
//
// 冲突处理：
//   - Consume / Update 不重试，冲突直接返回，调用方重新读取之后再决定
//   - Cancel / Reply 冲突时重新读取再删除，最多 MaxRetryAttempts 次(默认 100)
//   - Purge 不重试，单个文档失败不影响其他文档，错误合并返回
package flow
