// Package shutdown runs registered cleanup hooks, newest first, when the
// process is asked to stop.
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("resp server", srv.Shutdown)
//	err := h.Wait(ctx) // SIGINT, SIGTERM, Trigger or ctx done
package shutdown
