// Package async provides safe concurrent execution for background work.
//
// Tasks.SafeGo replaces bare `go func()` for fire-and-forget work such as
// deleting a replaced avatar or writing an audit record:
//
//	tasks := async.NewTasks(logger)
//	tasks.SafeGo(ctx, 5*time.Second, "audit", func(ctx context.Context) error {
//		return auditLogger.Log(ctx, event)
//	})
//
// Register tasks.Wait with the shutdown manager so in-flight work drains.
//
// Batch runs a bounded fan-out and collects every error:
//
//	err := async.Batch(ctx, userIDs, 4, 5*time.Second, func(ctx context.Context, id string) error {
//		return notify(ctx, id)
//	})
package async
