package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
)

type createDeploymentRequest struct {
	ProjectID uuid.UUID         `json:"projectId"`
	ClusterID *uuid.UUID        `json:"clusterId"`
	ServerID  *uuid.UUID        `json:"serverId"`
	EnvVars   map[string]string `json:"envVars"`
}

type rollbackRequest struct {
	TargetDeploymentID *uuid.UUID `json:"targetDeploymentId"`
}

func (h *handlers) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "create_deployment", err)
		return
	}
	d, err := h.s.Deployments.Deploy(r.Context(), callerFrom(r), deploy.DeployInput{
		ProjectID: req.ProjectID,
		ClusterID: req.ClusterID,
		ServerID:  req.ServerID,
		EnvVars:   req.EnvVars,
	})
	if err != nil {
		writeError(w, "create_deployment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeploymentView(d))
}

// listQuery parses project_id, status, page and limit
func listQuery(r *http.Request) (uuid.UUID, domain.Page, *domain.DeploymentStatus, error) {
	const op = "list_deployments"
	q := r.URL.Query()

	projectID, err := uuid.Parse(q.Get("project_id"))
	if err != nil {
		return uuid.Nil, domain.Page{}, nil, domain.Validation(op, "a valid project_id is required")
	}

	var page domain.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &page.Page}, {"limit", &page.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return uuid.Nil, domain.Page{}, nil, domain.Validation(op, "%s must be a number", p.name)
		}
		*p.dst = n
	}

	var status *domain.DeploymentStatus
	if raw := q.Get("status"); raw != "" {
		s, err := domain.ParseDeploymentStatus(raw)
		if err != nil {
			return uuid.Nil, domain.Page{}, nil, domain.Validation(op, "%v", err)
		}
		status = &s
	}
	return projectID, page.Normalize(), status, nil
}

func (h *handlers) listDeployments(w http.ResponseWriter, r *http.Request) {
	projectID, page, status, err := listQuery(r)
	if err != nil {
		writeError(w, "list_deployments", err)
		return
	}
	list, total, err := h.s.Deployments.List(r.Context(), callerFrom(r), projectID, page, status)
	if err != nil {
		writeError(w, "list_deployments", err)
		return
	}
	resp := deploymentList{
		Deployments: make([]deploymentView, len(list)),
		Total:       total,
		Page:        page.Page,
		Limit:       page.Limit,
	}
	for i, d := range list {
		resp.Deployments[i] = toDeploymentView(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getDeployment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	d, err := h.s.Deployments.Get(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "get_deployment", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentView(d))
}

func (h *handlers) deploymentStatus(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	view, err := h.s.Deployments.Status(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "deployment_status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) cancelDeployment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	d, err := h.s.Deployments.Cancel(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "cancel_deployment", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentView(d))
}

func (h *handlers) rollbackDeployment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "rollback_deployment", err)
		return
	}
	d, err := h.s.Deployments.Rollback(r.Context(), callerFrom(r), id, req.TargetDeploymentID)
	if err != nil {
		writeError(w, "rollback_deployment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeploymentView(d))
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	queueName, jobID := chi.URLParam(r, "queue"), chi.URLParam(r, "jobID")
	job, err := h.s.Jobs.Get(r.Context(), queueName, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		err = &domain.Error{Kind: domain.KindNotFound, Op: "get_job", Message: "job not found"}
	}
	if err != nil {
		writeError(w, "get_job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
