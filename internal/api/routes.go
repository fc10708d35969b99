package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"fleetwake/internal/events"
)

// RegisterRoutes вешает операторский API и websocket-канал присутствия.
func RegisterRoutes(r *mux.Router, h *Handler, hub *events.Hub) {
	sub := r.PathPrefix("/api/v1").Subrouter()

	sub.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	sub.HandleFunc("/devices/live", h.LiveDevices).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id:[0-9]+}", h.UpdateDevice).Methods(http.MethodPatch)
	sub.HandleFunc("/devices/{id:[0-9]+}", h.DeleteDevice).Methods(http.MethodDelete)
	sub.HandleFunc("/devices/{id:[0-9]+}/command", h.SendCommand).Methods(http.MethodPost)

	sub.HandleFunc("/actions/bulk", h.BulkAction).Methods(http.MethodPost)

	sub.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	sub.HandleFunc("/groups", h.CreateGroup).Methods(http.MethodPost)
	sub.HandleFunc("/groups/{id:[0-9]+}", h.DeleteGroup).Methods(http.MethodDelete)

	sub.HandleFunc("/tasks", h.ListTasks).Methods(http.MethodGet)
	sub.HandleFunc("/tasks", h.CreateTask).Methods(http.MethodPost)
	sub.HandleFunc("/tasks/{id:[0-9]+}", h.DeleteTask).Methods(http.MethodDelete)

	if hub != nil {
		r.HandleFunc("/ws/events", hub.ServeWS).Methods(http.MethodGet)
	}
}
