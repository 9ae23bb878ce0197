package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/logger"
	"reminder-engine/internal/reminder"
	"reminder-engine/internal/store"
)

// WarningHeader carries non-fatal remarks about an accepted request.
const WarningHeader = "X-Reminder-Warning"

type Config struct {
	Clock         clock.Clock
	DueSoonWindow time.Duration
	Logger        *zap.Logger
}

// Handler exposes the reminder store over HTTP.
type Handler struct {
	store  *store.ReminderStore
	clock  clock.Clock
	window time.Duration
	logger *zap.Logger
}

func New(st *store.ReminderStore, cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.DueSoonWindow <= 0 {
		cfg.DueSoonWindow = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		store:  st,
		clock:  cfg.Clock,
		window: cfg.DueSoonWindow,
		logger: cfg.Logger.Named("http"),
	}
}

// Router registers every route behind the request ID and logging middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, Logging(h.logger))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/reminders", h.CreateReminder).Methods(http.MethodPost)
	r.HandleFunc("/reminders", h.ListReminders).Methods(http.MethodGet)
	r.HandleFunc("/reminders/{id}", h.GetReminder).Methods(http.MethodGet)
	r.HandleFunc("/reminders/{id}", h.UpdateReminder).Methods(http.MethodPatch)
	r.HandleFunc("/reminders/{id}", h.DeleteReminder).Methods(http.MethodDelete)
	r.HandleFunc("/reminders/{id}/complete", h.CompleteReminder).Methods(http.MethodPost)
	r.HandleFunc("/reminders/{id}/progress", h.AddProgress).Methods(http.MethodPost)
	r.HandleFunc("/reminders/{id}/history", h.History).Methods(http.MethodGet)

	r.HandleFunc("/completed", h.ListCompleted).Methods(http.MethodGet)
	return r
}

// reminderView adds the display classification to a reminder.
type reminderView struct {
	reminder.Reminder
	State reminder.State `json:"state,omitempty"`
}

func (h *Handler) view(r reminder.Reminder) reminderView {
	return reminderView{Reminder: r, State: reminder.Classify(r, h.clock.Now(), h.window)}
}

type createRequest struct {
	Title   string `json:"title"`
	DueAt   string `json:"due_at"`
	DueDate string `json:"due_date"`
	DueTime string `json:"due_time"`
}

func (req createRequest) due() string {
	if req.DueAt != "" {
		return req.DueAt
	}
	return strings.TrimSpace(req.DueDate + " " + req.DueTime)
}

func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.store.Create(r.Context(), req.Title, req.due())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if due, err := created.DueAt(); err == nil && due.Before(h.clock.Now()) {
		w.Header().Set(WarningHeader, "due moment is in the past")
	}
	writeJSON(w, http.StatusCreated, h.view(created))
}

func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	list := h.store.List()
	out := make([]reminderView, len(list))
	for i, rem := range list {
		out[i] = h.view(rem)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := h.store.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(rem))
}

// updateRequest is a partial update; absent fields are left alone.
type updateRequest struct {
	Title    *string `json:"title"`
	Comments *string `json:"comments"`
	DueAt    *string `json:"due_at"`
	Progress *int    `json:"progress"`
}

func (h *Handler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	var due time.Time
	if req.DueAt != nil {
		var err error
		if due, err = reminder.ParseDue(*req.DueAt); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	updated, err := h.store.Update(r.Context(), mux.Vars(r)["id"], func(rem *reminder.Reminder) error {
		if req.Title == nil && req.Comments == nil && req.DueAt == nil && req.Progress == nil {
			return store.ErrNoChange
		}
		if req.Title != nil {
			rem.Title = *req.Title
		}
		if req.Comments != nil {
			rem.Comments = *req.Comments
		}
		if req.DueAt != nil {
			rem.SetDue(due)
		}
		if req.Progress != nil {
			rem.Progress = *req.Progress
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(updated))
}

func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	done, err := h.store.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

type progressRequest struct {
	Progress *int   `json:"progress"`
	Comment  string `json:"comment"`
}

func (h *Handler) AddProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Progress == nil {
		h.writeError(w, r, reminder.Validation("progress", "is required"))
		return
	}
	updated, err := h.store.AppendProgress(r.Context(), mux.Vars(r)["id"], *req.Progress, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(updated))
}

type historyResponse struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Progress int                    `json:"progress"`
	Latest   *reminder.UpdateEntry  `json:"latest"`
	Days     []reminder.DayGroup    `json:"days"`
	Entries  []reminder.UpdateEntry `json:"entries"`
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	rem, err := h.store.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := historyResponse{
		ID:       rem.ID,
		Title:    rem.Title,
		Progress: rem.Progress,
		Days:     rem.Updates.GroupByDate(),
		Entries:  rem.Updates.Entries(),
	}
	if resp.Days == nil {
		resp.Days = []reminder.DayGroup{}
	}
	if latest, ok := rem.Updates.Latest(); ok {
		resp.Latest = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Completed())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"active":    len(h.store.List()),
		"completed": len(h.store.Completed()),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, reminder.Validation("body", err.Error()))
		return false
	}
	return true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the engine's error kinds onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := http.StatusInternalServerError, "InternalError", "internal error"
	var e *reminder.Error
	if errors.As(err, &e) {
		code, msg = string(e.Kind), e.Message
		switch e.Kind {
		case reminder.KindValidation:
			status = http.StatusBadRequest
		case reminder.KindNotFound:
			status = http.StatusNotFound
		case reminder.KindPersistence:
			status = http.StatusServiceUnavailable
		}
	}
	if status >= 500 {
		logger.WithRequestID(r.Context(), h.logger).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
