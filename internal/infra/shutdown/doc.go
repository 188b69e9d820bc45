// Package shutdown runs cleanup hooks when archvault is interrupted.
//
// The interactive shell registers the engine's Close as a hook so a
// SIGINT or SIGTERM still flushes the ledger:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown("engine", engine.Close)
//	ctx, stop := h.Notify(ctx)
//	defer stop()
package shutdown
