// Package async provides panic-safe background goroutines.
//
// SafeGo runs a task with panic recovery, an optional timeout and error
// logging through logrus:
//
//	async.SafeGo(ctx, logger, 30*time.Second, "statistics flush", func(ctx context.Context) error {
//		_, err := aggregator.Flush(ctx)
//		return err
//	})
//
// Long-lived loops pass a zero timeout and stop when the parent context is
// cancelled.
package async
