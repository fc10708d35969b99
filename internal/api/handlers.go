// Package api — операторская поверхность движка: устройства, группы,
// задачи, bulk-действия. Потребляется внешним UI.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fleetwake/internal/dispatch"
	"fleetwake/internal/models"
	"fleetwake/internal/registry"
	"fleetwake/internal/repo"
)

type Handler struct {
	devices *repo.DeviceStore
	groups  *repo.GroupStore
	tasks   *repo.TaskStore
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	waker   dispatch.Waker
}

func NewHandler(devices *repo.DeviceStore, groups *repo.GroupStore, tasks *repo.TaskStore,
	reg *registry.Registry, disp *dispatch.Dispatcher, waker dispatch.Waker) *Handler {
	return &Handler{
		devices: devices,
		groups:  groups,
		tasks:   tasks,
		reg:     reg,
		disp:    disp,
		waker:   waker,
	}
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

/* ───── устройства ───── */

type deviceView struct {
	models.Device
	Online bool `json:"online"`
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := h.devices.GetAll(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	live := h.reg.LiveSet()
	out := make([]deviceView, 0, len(devs))
	for _, d := range devs {
		_, online := live[d.ID]
		out = append(out, deviceView{Device: d, Online: online})
	}
	models.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) LiveDevices(w http.ResponseWriter, r *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]any{"live": h.reg.LiveIDs()})
}

type updateDeviceRequest struct {
	Name    string `json:"name"`
	GroupID *uint  `json:"group_id"` // null — отвязать от группы
}

func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid device id", nil)
		return
	}
	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	if err := h.devices.UpdateDetails(r.Context(), id, req.Name, req.GroupID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid device id", nil)
		return
	}
	if err := h.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commandRequest struct {
	Action       string `json:"action"` // shutdown|reboot|wake
	DelaySeconds int    `json:"delay_seconds"`
}

// SendCommand доставляет команду одному устройству. shutdown/reboot идут
// по живому маршруту; wake — броадкастом, маршрут ему не нужен.
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid device id", nil)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	if req.DelaySeconds < 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "delay_seconds must be non-negative", nil)
		return
	}

	switch req.Action {
	case models.TaskKindWake:
		dev, err := h.devices.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
				return
			}
			models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
			return
		}
		if err := h.waker.Wake(dev.MAC, dev.IP); err != nil {
			models.WriteJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
			return
		}
		models.WriteJSON(w, http.StatusAccepted, map[string]any{"success": true})
	case models.TaskKindShutdown, models.TaskKindReboot:
		verb := dispatch.VerbShutdown
		if req.Action == models.TaskKindReboot {
			verb = dispatch.VerbReboot
		}
		if !h.disp.Send(id, verb, req.DelaySeconds) {
			models.WriteProblem(w, http.StatusConflict, "Unreachable",
				"device has no live connection", map[string]any{"device_id": id})
			return
		}
		models.WriteJSON(w, http.StatusAccepted, map[string]any{"success": true})
	default:
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "unsupported action", nil)
	}
}

type bulkRequest struct {
	Action       string `json:"action"`      // shutdown|reboot|wake
	TargetKind   string `json:"target_kind"` // all|group
	TargetID     uint   `json:"target_id"`
	DelaySeconds int    `json:"delay_seconds"`
}

func (h *Handler) BulkAction(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	if req.DelaySeconds < 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "delay_seconds must be non-negative", nil)
		return
	}
	res, err := h.disp.Bulk(r.Context(), req.Action, req.TargetKind, req.TargetID, req.DelaySeconds)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bulk Action Failed", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, res)
}

/* ───── группы ───── */

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.GetAll(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, groups)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	if req.Name == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "name is required", nil)
		return
	}
	g, err := h.groups.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusCreated, g)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid group id", nil)
		return
	}
	if err := h.groups.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "group not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ───── задачи ───── */

type createTaskRequest struct {
	Kind           string    `json:"kind"`
	ExecutionTime  time.Time `json:"execution_time"`
	RecurrenceRule string    `json:"recurrence_rule"`
	DelaySeconds   int       `json:"delay_seconds"`
	TargetKind     string    `json:"target_kind"`
	TargetID       uint      `json:"target_id"`
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.GetAll(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	switch req.Kind {
	case models.TaskKindShutdown, models.TaskKindReboot, models.TaskKindWake:
	default:
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "unsupported task kind", nil)
		return
	}
	if req.TargetKind != models.TargetKindGroup {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "only group targets are supported", nil)
		return
	}
	if req.ExecutionTime.IsZero() {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "execution_time is required", nil)
		return
	}
	if req.DelaySeconds < 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "delay_seconds must be non-negative", nil)
		return
	}

	t, err := h.tasks.Create(r.Context(), repo.CreateTaskInput{
		Kind:           req.Kind,
		ExecutionTime:  req.ExecutionTime,
		RecurrenceRule: req.RecurrenceRule,
		DelaySeconds:   req.DelaySeconds,
		TargetKind:     req.TargetKind,
		TargetID:       req.TargetID,
	})
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid task id", nil)
		return
	}
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "task not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Store Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
