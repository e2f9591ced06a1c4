// Package httpapi is the thin REST surface spec section 6 describes: CRUD
// over tasks that delegates everything to the scheduler. Routing follows
// the teacher's harpoon-scheduler/main.go wiring (httprouter plus a
// streadway/handy/report logging wrapper around every handler).
package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/streadway/handy/report"
)

// NewRouter builds the complete HTTP handler for the scheduler's REST
// surface.
func NewRouter(scheduler Scheduler, log zerolog.Logger) http.Handler {
	a := &api{scheduler: scheduler}
	router := httprouter.New()

	wrap := func(h httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			reported := report.JSON(logWriter{log}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, ps)
			}))
			reported.ServeHTTP(w, r)
		}
	}

	router.GET("/ping", wrap(a.handlePing))
	router.GET("/tasks", wrap(a.handleListTasks))
	router.POST("/tasks", wrap(a.handleScheduleTask))
	router.POST("/tasks/clean", wrap(a.handleClean))
	router.GET("/tasks/:id", wrap(a.handleGetTask))
	router.DELETE("/tasks/:id", wrap(a.handleCancelTask))
	router.GET("/tasks/pending/:id", wrap(a.handleGetPending))
	router.GET("/tasks/running/:id", wrap(a.handleGetRunning))
	router.GET("/tasks/cancelled/:id", wrap(a.handleGetCancelled))
	router.GET("/tasks/failed/:id", wrap(a.handleGetFailed))
	router.GET("/tasks/completed/:id", wrap(a.handleGetCompleted))

	return router
}

// logWriter adapts a zerolog.Logger to the io.Writer report.JSON wants for
// its access-log line, mirroring the teacher's own logWriter shim in
// harpoon-scheduler/main.go.
type logWriter struct{ log zerolog.Logger }

func (l logWriter) Write(p []byte) (int, error) {
	l.log.Info().Str("component", "http").Msg(string(p))
	return len(p), nil
}
