// Package admin serves the operator HTTP API of the refresh service:
// manual refresh and reconciliation, registry listing, pending cleanups and
// scheduler status.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/cleanup"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/refresh"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
)

// Scheduler is the part of refresh.Scheduler the API drives.
type Scheduler interface {
	RefreshRepo(ctx context.Context, alias string) (refresh.Outcome, error)
	Reconcile(ctx context.Context, alias string) (layout.State, error)
	Status() refresh.Status
}

// PendingLister reports retired versions awaiting deletion.
type PendingLister interface {
	Tasks() []cleanup.Task
}

// AliasReader resolves an alias to its live target.
type AliasReader interface {
	Read(name string) (string, error)
}

type Handler struct {
	scheduler Scheduler
	registry  registry.Store
	aliases   AliasReader
	cleanup   PendingLister
	breakers  func() map[string]string
	logger    *slog.Logger
}

// New creates the API handler. breakers may be nil when no notification
// sinks are configured.
func New(s Scheduler, store registry.Store, aliases AliasReader, pending PendingLister, breakers func() map[string]string) *Handler {
	return &Handler{
		scheduler: s,
		registry:  store,
		aliases:   aliases,
		cleanup:   pending,
		breakers:  breakers,
		logger:    slog.Default().With("component", "admin-handler"),
	}
}

type repoView struct {
	registry.Entry
	Upstream    string `json:"upstream"`
	AliasTarget string `json:"alias_target,omitempty"`
}

// ListRepos returns every registry entry with its upstream kind and the
// alias target readers currently see.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]repoView, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.view(e))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"repos": out, "count": len(out)})
}

func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	e, err := h.registry.Get(r.Context(), r.PathValue("alias"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(e))
}

func (h *Handler) view(e registry.Entry) repoView {
	v := repoView{Entry: e, Upstream: e.Upstream().Kind.String()}
	if target, err := h.aliases.Read(e.AliasName); err == nil {
		v.AliasTarget = target
	}
	return v
}

// Refresh runs one cycle for the alias and waits for it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("alias")
	outcome, err := h.scheduler.RefreshRepo(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]any{"alias": name, "outcome": outcome}
	if target, err := h.aliases.Read(name); err == nil {
		resp["index_path"] = target
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("alias")
	st, err := h.scheduler.Reconcile(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"alias": name, "artifacts": st})
}

func (h *Handler) PendingCleanups(w http.ResponseWriter, r *http.Request) {
	tasks := h.cleanup.Tasks()
	h.writeJSON(w, http.StatusOK, map[string]any{"pending": tasks, "count": len(tasks)})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"scheduler": h.scheduler.Status()}
	if h.breakers != nil {
		resp["notifiers"] = h.breakers()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := map[string]string{"error": err.Error()}
	if stage := apperrors.StageOf(err); stage != "" {
		body["stage"] = string(stage)
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("admin request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

var _ AliasReader = (*alias.Manager)(nil)
