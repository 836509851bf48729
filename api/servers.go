package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/provision"
	"github.com/oar-cd/moor/servers"
)

type registerServerRequest struct {
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	PrivateKey string     `json:"privateKey"`
	Password   string     `json:"password"`
	ClusterID  *uuid.UUID `json:"clusterId"`
}

func (req registerServerRequest) input() servers.RegisterServerInput {
	return servers.RegisterServerInput{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		PrivateKey: req.PrivateKey,
		Password:   req.Password,
		ClusterID:  req.ClusterID,
	}
}

type configureRequest struct {
	InstallDocker *bool `json:"installDocker"`
	SetupFirewall *bool `json:"setupFirewall"`
}

type executeRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Safe           bool   `json:"safe"`
}

func (h *handlers) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "register_server", err)
		return
	}
	server, err := h.s.Servers.Register(r.Context(), callerFrom(r), req.input())
	if err != nil {
		writeError(w, "register_server", err)
		return
	}
	writeJSON(w, http.StatusCreated, toServerView(server))
}

func (h *handlers) listServers(w http.ResponseWriter, r *http.Request) {
	list, err := h.s.Servers.List(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, "list_servers", err)
		return
	}
	views := make([]serverView, len(list))
	for i, s := range list {
		views[i] = toServerView(s)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getServer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	server, err := h.s.Servers.Get(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "get_server", err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(server))
}

func (h *handlers) deleteServer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.s.Servers.Delete(r.Context(), callerFrom(r), id); err != nil {
		writeError(w, "delete_server", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) testServer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	outcome, err := h.s.Servers.TestConnection(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "test_connection", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *handlers) testCredentials(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "test_credentials", err)
		return
	}
	outcome, err := h.s.Servers.TestCredentials(r.Context(), callerFrom(r), req.input())
	if err != nil {
		writeError(w, "test_credentials", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *handlers) collectInfo(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	info, err := h.s.Servers.CollectInfo(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, "collect_info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) configureServer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req configureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "configure_server", err)
		return
	}
	opts := provision.DefaultOptions()
	if req.InstallDocker != nil {
		opts.InstallDocker = *req.InstallDocker
	}
	if req.SetupFirewall != nil {
		opts.SetupFirewall = *req.SetupFirewall
	}

	result, err := h.s.Provisioner.Configure(r.Context(), callerFrom(r), id, opts)
	if err != nil {
		writeError(w, "configure_server", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) executeCommand(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "execute_command", err)
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	result, err := h.s.Servers.ExecuteCommand(r.Context(), callerFrom(r), id, req.Command, timeout, req.Safe)
	if err != nil {
		writeError(w, "execute_command", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) estimateForServer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var in provision.RequirementsInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, "estimate_requirements", err)
		return
	}
	estimate, err := h.s.Provisioner.EstimateForServer(r.Context(), callerFrom(r), id, in)
	if err != nil {
		writeError(w, "estimate_requirements", err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (h *handlers) estimateRequirements(w http.ResponseWriter, r *http.Request) {
	var in provision.RequirementsInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, "estimate_requirements", err)
		return
	}
	writeJSON(w, http.StatusOK, provision.EstimateRequirements(in, nil))
}
