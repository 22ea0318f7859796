package handlers

import (
	"log/slog"
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/abefas/tasktracker/config"
	"github.com/abefas/tasktracker/middleware"
)

// NewRouter wires the API routes. Everything except /healthz requires a
// bearer token resolved by resolver.
func NewRouter(h *Handlers, resolver middleware.Resolver, cors config.CORSConfig, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithMessage(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.HandleFunc("/healthz", h.Health).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(middleware.Authenticate(resolver, logger))

	// Define API routes and link them to the handler functions.
	api.HandleFunc("/tasks", h.GetTasks).Methods("GET")
	api.HandleFunc("/tasks", h.CreateTask).Methods("POST")
	api.HandleFunc("/tasks/{id}", h.GetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", h.UpdateTask).Methods("PUT")
	api.HandleFunc("/tasks/{id}", h.DeleteTask).Methods("DELETE")
	api.HandleFunc("/me", h.Me).Methods("GET")

	var handler http.Handler = router
	handler = gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(cors.AllowedOrigins),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)(handler)
	return handler
}
