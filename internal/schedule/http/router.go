package http

import (
	"net/http"
	"net/url"
	"time"

	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/jwtverify"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
	"github.com/AlibekovAA/class-schedule/internal/schedule/service"
)

type scheduleRequest struct {
	GroupName   string    `json:"groupName"`
	TeacherName string    `json:"teacherName"`
	Subject     string    `json:"subject"`
	Room        string    `json:"room"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

type scheduleUpdateRequest struct {
	GroupName   *string    `json:"groupName"`
	TeacherName *string    `json:"teacherName"`
	Subject     *string    `json:"subject"`
	Room        *string    `json:"room"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
}

type Handler struct {
	schedules    *service.ScheduleService
	errorHandler *commonhttp.ErrorHandler
	log          *logger.Logger
}

// Register mounts the /api/schedules routes. Every route requires an access
// token; writes additionally require the admin role. feed serves the
// websocket change stream and may be nil.
func Register(mux *http.ServeMux, schedules *service.ScheduleService, guard *jwtverify.Guard, feed http.Handler, requestTimeout time.Duration, log *logger.Logger) {
	h := &Handler{
		schedules:    schedules,
		errorHandler: commonhttp.NewErrorHandler(log),
		log:          log,
	}

	timeout := commonhttp.WithTimeout(requestTimeout)
	authed := func(fn http.HandlerFunc) http.Handler {
		return guard.Middleware(timeout(fn))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return guard.Middleware(guard.RequireAdmin(timeout(fn)))
	}

	mux.Handle("GET /api/schedules", authed(h.list))
	mux.Handle("GET /api/schedules/grouped", authed(h.grouped))
	mux.Handle("GET /api/schedules/{id}", authed(h.get))
	mux.Handle("POST /api/schedules", admin(h.create))
	mux.Handle("PUT /api/schedules/{id}", admin(h.update))
	mux.Handle("DELETE /api/schedules/{id}", admin(h.delete))
	if feed != nil {
		mux.Handle("GET /api/schedules/ws", guard.Middleware(feed))
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, schedules)
}

func (h *Handler) grouped(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	slots, err := h.schedules.Grouped(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, slots)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	schedule, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, schedule)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.badRequest(w, r, commonhttp.CodeInvalidJSON, "invalid json")
		return
	}

	created, err := h.schedules.Create(r.Context(), service.ScheduleInput{
		GroupName:   req.GroupName,
		TeacherName: req.TeacherName,
		Subject:     req.Subject,
		Room:        req.Room,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req scheduleUpdateRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.badRequest(w, r, commonhttp.CodeInvalidJSON, "invalid json")
		return
	}

	updated, err := h.schedules.Update(r.Context(), id, service.ScheduleUpdate{
		GroupName:   req.GroupName,
		TeacherName: req.TeacherName,
		Subject:     req.Subject,
		Room:        req.Room,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.schedules.Delete(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	commonhttp.WriteMessage(w, http.StatusOK, "schedule deleted")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := commonhttp.PathInt64(r, "id")
	if !ok {
		h.badRequest(w, r, commonhttp.CodeInvalidPath, "invalid schedule id")
	}
	return id, ok
}

func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (domain.Filter, bool) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.badRequest(w, r, commonhttp.CodeBadRequest, err.Error())
		return domain.Filter{}, false
	}
	return filter, true
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, code, message string) {
	commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, code, message, nil, commonhttp.TraceIDFromContext(r.Context()))
}

type filterError string

func (e filterError) Error() string { return string(e) }

// parseFilter reads group, teacher, from, to (RFC 3339) and date (YYYY-MM-DD,
// UTC). date selects a whole day and cannot be combined with from or to.
func parseFilter(q url.Values) (domain.Filter, error) {
	filter := domain.Filter{
		Group:   q.Get("group"),
		Teacher: q.Get("teacher"),
	}

	if raw := q.Get("date"); raw != "" {
		if q.Get("from") != "" || q.Get("to") != "" {
			return domain.Filter{}, filterError("date cannot be combined with from or to")
		}
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return domain.Filter{}, filterError("date must be YYYY-MM-DD")
		}
		filter.From, filter.To = domain.Day(day)
		return filter, nil
	}

	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Filter{}, filterError("from must be an RFC 3339 timestamp")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Filter{}, filterError("to must be an RFC 3339 timestamp")
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return domain.Filter{}, filterError("to must be after from")
	}
	return filter, nil
}
