package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/ayusman/senas/internal/store"
)

// attachAdminRoutes mounts the debugger at /debug/ with session state and,
// when a store is configured, a live SQL console over it.
func (s *Server) attachAdminRoutes() {
	sess := s.config.Session
	debug := tsweb.Debugger(s.mux)

	debug.KVFunc("Camera active", func() any { return sess.CameraActive() })
	debug.KVFunc("Active model", func() any {
		if a := sess.Registry().Active(); a != nil {
			return a.UserID
		}
		return "none"
	})
	debug.KVFunc("Last gesture", func() any {
		if e, ok := sess.LastGesture(); ok {
			return e.Label
		}
		return "none"
	})
	debug.KVFunc("Movement run", func() any { return sess.Status().MovementRun })
	debug.KVFunc("Gesture feed clients", func() any { return s.feed.Clients() })

	debug.HandleFunc("session", "Session status as JSON", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Status())
	})

	st := sess.Store()
	if st == nil {
		return
	}
	debug.KV("Database", st.Path())
	debug.KVFunc("Schema version", func() any { return schemaVersion(st) })

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Printf("tailsql disabled: %v", err)
		return
	}
	tsql.SetDB("sqlite://senas.db", st.DB(), &tailsql.DBOptions{
		Label: "Gesture events",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}

func schemaVersion(st *store.Store) string {
	version, dirty, err := st.MigrateVersion()
	if err != nil {
		return "unknown: " + err.Error()
	}
	if dirty {
		return fmt.Sprintf("%d (dirty)", version)
	}
	return fmt.Sprintf("%d", version)
}
