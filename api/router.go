// Package api exposes servers, provisioning, deployments and job lookups as a JSON HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/provision"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/servers"
	"github.com/oar-cd/moor/sshjobs"
)

type ServerService interface {
	Register(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*domain.Server, error)
	Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Server, error)
	List(ctx context.Context, caller domain.CallerMetadata) ([]*domain.Server, error)
	Delete(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) error
	TestConnection(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*sshjobs.ConnectionOutcome, error)
	TestCredentials(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*sshjobs.ConnectionOutcome, error)
	CollectInfo(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.ServerInfo, error)
	ExecuteCommand(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, command string, timeout time.Duration, safe bool) (*sshjobs.JobResult, error)
}

type Provisioner interface {
	Configure(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, opts provision.Options) (*provision.Result, error)
	EstimateForServer(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, in provision.RequirementsInput) (*provision.RequirementsEstimate, error)
}

type DeploymentService interface {
	Deploy(ctx context.Context, caller domain.CallerMetadata, in deploy.DeployInput) (*domain.Deployment, error)
	Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error)
	List(ctx context.Context, caller domain.CallerMetadata, projectID uuid.UUID, page domain.Page, status *domain.DeploymentStatus) ([]*domain.Deployment, int64, error)
	Status(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*deploy.StatusView, error)
	Cancel(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error)
	Rollback(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, targetID *uuid.UUID) (*domain.Deployment, error)
}

type JobLookup interface {
	Get(ctx context.Context, queue, id string) (*queue.Job, error)
}

// Services is everything the router dispatches to
type Services struct {
	Servers     ServerService
	Provisioner Provisioner
	Deployments DeploymentService
	Jobs        JobLookup
	Version     string
}

// NewRouter registers every route on a fresh chi router
func NewRouter(s Services) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	h := &handlers{s: s}

	r.Get("/health", h.health)
	r.Get("/version", h.version)

	r.Route("/api", func(r chi.Router) {
		r.Post("/requirements", h.estimateRequirements)

		r.Route("/servers", func(r chi.Router) {
			r.Post("/", h.registerServer)
			r.Get("/", h.listServers)
			r.Post("/test", h.testCredentials)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", withID(h.getServer))
				r.Delete("/", withID(h.deleteServer))
				r.Post("/test", withID(h.testServer))
				r.Post("/collect", withID(h.collectInfo))
				r.Post("/configure", withID(h.configureServer))
				r.Post("/exec", withID(h.executeCommand))
				r.Post("/requirements", withID(h.estimateForServer))
			})
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.createDeployment)
			r.Get("/", h.listDeployments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", withID(h.getDeployment))
				r.Get("/status", withID(h.deploymentStatus))
				r.Post("/cancel", withID(h.cancelDeployment))
				r.Post("/rollback", withID(h.rollbackDeployment))
			})
		})

		r.Get("/jobs/{queue}/{jobID}", h.getJob)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request served",
			"layer", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}
