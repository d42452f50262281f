package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sheetmail/internal/dispatch"
	"sheetmail/internal/runtime/supervisor"
	"sheetmail/internal/schedule"
	"sheetmail/internal/source"
	"sheetmail/internal/storage"
	"sheetmail/pkg/logx"
)

// Deps are the components the API exposes. Store and Schedules may be nil.
type Deps struct {
	Launcher  *source.Launcher
	Store     storage.Store
	Schedules *schedule.Service
	// Workers reports supervised goroutines for /healthz; nil omits them.
	Workers func() supervisor.Counters
}

type Handler struct {
	deps Deps
	log  logx.Logger
	// cancelWait bounds DELETE .../runs?wait=true; the in-flight delivery may take a relay timeout.
	cancelWait time.Duration
}

func NewHandler(deps Deps, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{deps: deps, log: log, cancelWait: 30 * time.Second}
}

type StartRunReq struct {
	Template string `json:"template"`
}

type TemplateReq struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	RawText string `json:"raw_text"`
}

type TemplatesRes struct {
	Group     string   `json:"group,omitempty"`
	Templates []string `json:"templates"`
}

type GroupsRes struct {
	Groups []source.GroupInfo `json:"groups"`
}

type RunsRes struct {
	Runs []storage.RunRecord `json:"runs"`
}

type SchedulesRes struct {
	Schedules []schedule.EntryInfo `json:"schedules"`
}

type StatusRes struct {
	dispatch.Status
	Error string `json:"error,omitempty"`
}

func statusRes(st dispatch.Status) StatusRes {
	return StatusRes{Status: st, Error: st.Error()}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	res := map[string]any{
		"status":      "ok",
		"active_runs": h.deps.Launcher.Registry().ActiveRunCount(),
	}
	if h.deps.Workers != nil {
		res["workers"] = h.deps.Workers()
	}
	WriteJson(w, http.StatusOK, res)
}

func (h *Handler) GetGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.deps.Launcher.Groups()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteJson(w, http.StatusOK, GroupsRes{Groups: groups})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Launcher.Registry().Status(chi.URLParam(r, "groupID"))
	if r.URL.Query().Get("outcomes") != "true" {
		st.Outcomes = nil
	}
	WriteJson(w, http.StatusOK, statusRes(st))
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	req, err := ReadJson[StartRunReq](r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	groupID := chi.URLParam(r, "groupID")
	hd, err := h.deps.Launcher.Launch(r.Context(), groupID, strings.TrimSpace(req.Template))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.log.Info("run started via api", logx.Group(groupID), logx.Run(hd.RunID), logx.String("remote", r.RemoteAddr))
	WriteJson(w, http.StatusAccepted, statusRes(hd.Status()))
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	hd, ok := h.deps.Launcher.Registry().Handle(groupID)
	if !ok {
		h.writeErr(w, fmt.Errorf("group %q: %w", groupID, dispatch.ErrNotRunning))
		return
	}
	hd.Cancel()
	if r.URL.Query().Get("wait") != "true" {
		WriteJson(w, http.StatusAccepted, statusRes(hd.Status()))
		return
	}
	// Wait on this run only; a run started for the group meanwhile is not ours.
	ctx, cancel := context.WithTimeout(r.Context(), h.cancelWait)
	defer cancel()
	st, err := hd.Wait(ctx)
	if err != nil {
		WriteJson(w, http.StatusAccepted, statusRes(st))
		return
	}
	WriteJson(w, http.StatusOK, statusRes(st))
}

func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	WriteJson(w, http.StatusOK, TemplatesRes{Group: group, Templates: h.deps.Launcher.Library().List(group)})
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := h.deps.Launcher.Library().Get(r.URL.Query().Get("group"), chi.URLParam(r, "name"))
	if !ok {
		WriteError(w, http.StatusNotFound, "template not found")
		return
	}
	WriteJson(w, http.StatusOK, tpl)
}

func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	req, err := ReadJson[TemplateReq](r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	tpl := dispatch.Template{Name: req.Name, RawText: req.RawText}
	if err := h.deps.Launcher.Library().Add(req.Group, tpl); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := map[string]any{"name": strings.TrimSpace(req.Name), "group": req.Group}
	if err := dispatch.ValidateTemplate(tpl); err != nil {
		res["warning"] = err.Error()
	}
	WriteJson(w, http.StatusCreated, res)
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Launcher.Library().Remove(r.URL.Query().Get("group"), chi.URLParam(r, "name")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		WriteError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	q := r.URL.Query()
	f := storage.Filter{GroupID: q.Get("group"), WithOutcomes: q.Get("outcomes") == "true"}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid since (want RFC3339)")
			return
		}
		f.Since = t
	}
	runs, err := h.deps.Store.ListRuns(r.Context(), f)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	WriteJson(w, http.StatusOK, RunsRes{Runs: runs})
}

func (h *Handler) GetSchedules(w http.ResponseWriter, r *http.Request) {
	res := SchedulesRes{Schedules: []schedule.EntryInfo{}}
	if h.deps.Schedules != nil {
		res.Schedules = h.deps.Schedules.Snapshot()
	}
	WriteJson(w, http.StatusOK, res)
}

// writeErr maps domain errors onto HTTP status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case dispatch.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, source.ErrGroupNotFound), errors.Is(err, source.ErrTemplateNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dispatch.ErrAlreadyRunning), errors.Is(err, dispatch.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(err, source.ErrNoWorkbook):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		h.log.Error("control request failed", logx.Err(err))
	}
	WriteError(w, code, err.Error())
}
