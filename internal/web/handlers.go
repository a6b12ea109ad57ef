package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"legalagenda/internal/agenda"
	"legalagenda/internal/dates"
	"legalagenda/internal/engine"
	"legalagenda/internal/ics"
	"legalagenda/internal/model"
	"legalagenda/internal/timekeeping"
)

// agendaQuery builds an agenda.Query from URL parameters:
// from, to, day (YYYY-MM-DD), type and status (repeatable or comma
// separated), overdue, due_today and virtual (default true). Without a window
// the configured horizon starting today is used.
func (s *Server) agendaQuery(r *http.Request, sc model.Scope) (agenda.Query, error) {
	v := r.URL.Query()
	q := agenda.Query{Scope: sc, IncludeVirtual: true}

	today := dates.OfIn(s.svc.Now(), s.svc.Location())
	horizon := 14
	if s.cfg != nil {
		horizon = s.cfg.HorizonDays
	}
	q.From, q.To = today, today.AddDays(parseIntDefault(v.Get("days"), horizon))

	for _, p := range []struct {
		name string
		dst  *dates.Date
	}{{"from", &q.From}, {"to", &q.To}} {
		if raw := v.Get(p.name); raw != "" {
			d, err := dates.Parse(raw)
			if err != nil {
				return q, err
			}
			*p.dst = d
		}
	}
	if raw := v.Get("day"); raw != "" {
		d, err := dates.Parse(raw)
		if err != nil {
			return q, err
		}
		q.Day = &d
	}

	q.Categories = listParam(v["type"])
	for _, st := range listParam(v["status"]) {
		q.Statuses = append(q.Statuses, model.Status(st))
	}
	q.Overdue = boolParam(v.Get("overdue"))
	q.DueToday = boolParam(v.Get("due_today"))
	if raw := v.Get("virtual"); raw != "" {
		q.IncludeVirtual = boolParam(raw)
	}
	return q, nil
}

func listParam(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func boolParam(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

type agendaResponse struct {
	Query   agenda.Query   `json:"query"`
	Entries []agenda.Entry `json:"entries"`
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	q, err := s.agendaQuery(r, sc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.svc.List(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agendaResponse{Query: q.Normalize(), Entries: entries})
}

func (s *Server) handleAgendaICS(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	q, err := s.agendaQuery(r, sc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := s.svc.ExportICS(r.Context(), q, "Agenda "+sc.OfficeID)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type idRequest struct {
	ID string `json:"id"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req idRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.svc.Materialize(r.Context(), sc, req.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleDeleteOccurrence(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	which, err := engine.ParseDeleteScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.DeleteOccurrence(r.Context(), sc, r.PathValue("id"), which); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTaskRequest struct {
	Title          string         `json:"title"`
	Subtype        model.Subtype  `json:"subtype,omitempty"`
	Priority       model.Priority `json:"priority,omitempty"`
	AssigneeName   string         `json:"assignee_name,omitempty"`
	CaseNumber     string         `json:"case_number,omitempty"`
	Location       string         `json:"location,omitempty"`
	Start          time.Time      `json:"start"`
	FixedDeadline  *dates.Date    `json:"fixed_deadline,omitempty"`
	CaseID         string         `json:"case_id,omitempty"`
	ConsultationID string         `json:"consultation_id,omitempty"`
	Recurrence     *engine.Series `json:"recurrence,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.svc.CreateTask(r.Context(), sc, model.Task{
		Title:          req.Title,
		Subtype:        req.Subtype,
		Priority:       req.Priority,
		AssigneeName:   req.AssigneeName,
		CaseNumber:     req.CaseNumber,
		Location:       req.Location,
		Start:          req.Start,
		FixedDeadline:  req.FixedDeadline,
		CaseID:         req.CaseID,
		ConsultationID: req.ConsultationID,
	}, req.Recurrence)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.TaskItem(t))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	t, err := s.svc.GetTask(r.Context(), sc, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TaskItem(t))
}

type rescheduleRequest struct {
	Start             time.Time   `json:"start"`
	ConfirmedDeadline *dates.Date `json:"confirmed_deadline,omitempty"`
}

func (s *Server) handlePlanReschedule(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.svc.PlanReschedule(r.Context(), sc, r.PathValue("id"), req.Start)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCommitReschedule(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.svc.CommitReschedule(r.Context(), sc, r.PathValue("id"), req.Start, req.ConfirmedDeadline)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

func (s *Server) handleMoveStatus(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.svc.MoveStatus(r.Context(), sc, r.PathValue("id"), req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TaskItem(t))
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	t, err := s.svc.Reopen(r.Context(), sc, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TaskItem(t))
}

type attemptResponse struct {
	AttemptID string            `json:"attempt_id"`
	TaskID    string            `json:"task_id"`
	Plan      timekeeping.Plan  `json:"plan"`
	State     timekeeping.State `json:"state"`
}

func (s *Server) handlePrepareCompletion(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	a, err := s.svc.PrepareCompletion(r.Context(), sc, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponse{AttemptID: a.ID, TaskID: a.TaskID, Plan: a.Plan, State: a.State()})
}

// handleCompletionAction answers an open attempt: hours, complete-anyway,
// complete (unlinked tasks), cancel or close.
func (s *Server) handleCompletionAction(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	ctx := r.Context()
	attemptID := r.PathValue("attempt")

	var err error
	switch r.PathValue("action") {
	case "hours":
		var in timekeeping.HoursInput
		if err := decode(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := s.svc.EnterHours(ctx, sc, attemptID, in)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	case "complete-anyway":
		err = s.svc.CompleteWithoutHours(ctx, sc, attemptID)
	case "complete":
		err = s.svc.CompleteDirect(ctx, sc, attemptID)
	case "cancel":
		err = s.svc.CancelCompletion(ctx, sc, attemptID)
	case "close":
		err = s.svc.CloseCompletion(ctx, sc, attemptID)
	default:
		writeError(w, http.StatusNotFound, "unknown completion action")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogHours(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var in timekeeping.HoursInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.svc.LogHours(r.Context(), sc, r.PathValue("id"), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleStartTimer(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	t, err := s.svc.StartTimer(r.Context(), sc, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleActiveTimers(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	ts, err := s.svc.ActiveTimers(r.Context(), sc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type finalizeRequest struct {
	Description string `json:"description"`
	Billable    bool   `json:"billable"`
}

func (s *Server) handleTimerAction(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	ctx := r.Context()
	id := r.PathValue("id")

	var (
		t   model.Timer
		err error
	)
	switch r.PathValue("action") {
	case "pause":
		t, err = s.svc.PauseTimer(ctx, sc, id)
	case "resume":
		t, err = s.svc.ResumeTimer(ctx, sc, id)
	case "discard":
		t, err = s.svc.DiscardTimer(ctx, sc, id)
	case "finalize":
		var req finalizeRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := s.svc.FinalizeTimer(ctx, sc, id, req.Description, req.Billable)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	default:
		writeError(w, http.StatusNotFound, "unknown timer action")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type moveEventRequest struct {
	Start time.Time `json:"start"`
}

type createEventRequest struct {
	Title        string         `json:"title"`
	Subtype      model.Subtype  `json:"subtype,omitempty"`
	Priority     model.Priority `json:"priority,omitempty"`
	AssigneeName string         `json:"assignee_name,omitempty"`
	CaseNumber   string         `json:"case_number,omitempty"`
	Location     string         `json:"location,omitempty"`
	AllDay       bool           `json:"all_day"`
	Start        time.Time      `json:"start"`
	End          *time.Time     `json:"end,omitempty"`
	CaseID       string         `json:"case_id,omitempty"`
	Recurrence   *engine.Series `json:"recurrence,omitempty"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req createEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.svc.CreateEvent(r.Context(), sc, model.Event{
		Title:        req.Title,
		Subtype:      req.Subtype,
		Priority:     req.Priority,
		AssigneeName: req.AssigneeName,
		CaseNumber:   req.CaseNumber,
		Location:     req.Location,
		AllDay:       req.AllDay,
		Start:        req.Start,
		End:          req.End,
		CaseID:       req.CaseID,
	}, req.Recurrence)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.EventItem(e))
}

func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	var req moveEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.svc.MoveEvent(r.Context(), sc, r.PathValue("id"), req.Start)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.EventItem(e))
}

type deadlineResponse struct {
	Intimation dates.Date `json:"intimation"`
	Days       int        `json:"days"`
	Business   bool       `json:"business"`
	Limit      dates.Date `json:"limit"`
}

// handleDeadline computes a legal limit: intimation=YYYY-MM-DD, days=N,
// business=true|false (default true).
func (s *Server) handleDeadline(w http.ResponseWriter, r *http.Request, _ model.Scope) {
	v := r.URL.Query()
	intimation, err := dates.Parse(v.Get("intimation"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "intimation: "+err.Error())
		return
	}
	days, err := strconv.Atoi(v.Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	business := true
	if raw := v.Get("business"); raw != "" {
		business = boolParam(raw)
	}
	limit, err := s.svc.CalculateDeadline(r.Context(), intimation, days, business)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deadlineResponse{Intimation: intimation, Days: days, Business: business, Limit: limit})
}

func (s *Server) handleSyncHearings(w http.ResponseWriter, r *http.Request, sc model.Scope) {
	if s.syncer == nil || s.cfg == nil {
		writeError(w, http.StatusNotFound, "no hearing feeds configured")
		return
	}
	rep, err := s.syncer.Sync(r.Context(), sc.OfficeID, ics.FeedsFromConfig(s.cfg.HearingFeeds))
	if err != nil {
		// Partial failures still report what was imported.
		writeJSON(w, http.StatusBadGateway, struct {
			ics.Report
			Error string `json:"error"`
		}{rep, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
