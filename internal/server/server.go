package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/engine/auth"
	"bountyline/internal/logging"
	"bountyline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"cannot approve submission: submission S1 is approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"pr_url\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bounty lifecycle.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request decoding errors are bad requests; 422 is
			// reserved for lifecycle state violations.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: log}
	registerHealth(group)
	h.registerBounties(group)
	h.registerApplications(group)
	h.registerSubmissions(group)
	h.registerDisputes(group)
	h.registerExtensions(group)
	registerOpenAPI(router, api, basePath)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:     http.StatusNotFound,
	domain.KindForbidden:    http.StatusForbidden,
	domain.KindValidation:   http.StatusBadRequest,
	domain.KindInvalidState: http.StatusUnprocessableEntity,
	domain.KindConflict:     http.StatusConflict,
	domain.KindStorage:      http.StatusInternalServerError,
}

type handlers struct {
	e   engine.Engine
	log logrus.FieldLogger
}

// handleError maps a lifecycle error to the envelope by its kind.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	kind := domain.KindOf(err)
	status := kindStatus[kind]
	if kind == domain.KindStorage {
		h.log.WithError(err).Error("request failed")
		return newAPIError(status, string(kind), "internal error", nil)
	}
	var details map[string]any
	var fe *engine.FieldError
	var ste *engine.StateError
	var forbidden auth.ForbiddenError
	switch {
	case errors.As(err, &fe):
		details = map[string]any{"field": fe.Field, "reason": fe.Reason}
	case errors.As(err, &ste):
		details = map[string]any{"entity": ste.Entity, "id": ste.ID, "status": ste.Status}
	case errors.As(err, &forbidden):
		details = map[string]any{"relation": forbidden.Relation}
	}
	return newAPIError(status, string(kind), err.Error(), details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(started).String(),
			}).Debug("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*response[HealthResponse], error) {
		return &response[HealthResponse]{Body: HealthResponse{Status: "ok"}}, nil
	})
}

type response[T any] struct {
	Body T
}

var commandErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// handle registers an authenticated operation whose result becomes the
// response body.
func handle[I, T any](h handlers, api huma.API, op huma.Operation, fn func(context.Context, auth.Principal, *I) (T, error)) {
	if op.Errors == nil {
		op.Errors = commandErrors
	}
	huma.Register(api, op, func(ctx context.Context, in *I) (*response[T], error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := fn(ctx, p, in)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &response[T]{Body: res}, nil
	})
}

type bountyPath struct {
	BountyID string `path:"bounty_id"`
}

func (h handlers) registerBounties(api huma.API) {
	handle(h, api, huma.Operation{
		OperationID:   "create-bounty",
		Method:        http.MethodPost,
		Path:          "/bounties",
		Summary:       "Create bounty",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, p auth.Principal, in *struct{ Body CreateBountyBody }) (domain.Bounty, error) {
		return h.e.CreateBounty(ctx, p, engine.CreateBountyRequest{
			Title:       in.Body.Title,
			Description: in.Body.Description,
			Amount:      in.Body.Amount,
			Currency:    in.Body.Currency,
			Deadline:    in.Body.Deadline,
		})
	})

	handle(h, api, huma.Operation{
		OperationID: "list-bounties",
		Method:      http.MethodGet,
		Path:        "/bounties",
		Summary:     "List bounties",
	}, func(ctx context.Context, _ auth.Principal, in *struct {
		Status     string `query:"status"`
		CreatorID  string `query:"creator_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" minimum:"0"`
	}) (BountyList, error) {
		res, err := h.e.ListBounties(ctx, store.BountyFilters{
			Status:     in.Status,
			CreatorID:  in.CreatorID,
			AssigneeID: in.AssigneeID,
			Limit:      in.Limit,
		})
		return BountyList{Bounties: res}, err
	})

	handle(h, api, huma.Operation{
		OperationID: "get-bounty",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}",
		Summary:     "Get bounty",
	}, func(ctx context.Context, _ auth.Principal, in *bountyPath) (domain.Bounty, error) {
		return h.e.GetBounty(ctx, in.BountyID)
	})

	handle(h, api, huma.Operation{
		OperationID: "cancel-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/cancel",
		Summary:     "Cancel an open bounty",
	}, func(ctx context.Context, p auth.Principal, in *bountyPath) (domain.Bounty, error) {
		return h.e.CancelBounty(ctx, p, engine.CancelBountyRequest{BountyID: in.BountyID})
	})

	handle(h, api, huma.Operation{
		OperationID: "assign-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{bounty_id}/assign",
		Summary:     "Assign an open bounty directly",
	}, func(ctx context.Context, p auth.Principal, in *struct {
		BountyID string `path:"bounty_id"`
		Body     AssignBody
	}) (domain.Bounty, error) {
		return h.e.AssignDirect(ctx, p, engine.AssignRequest{BountyID: in.BountyID, AssigneeID: in.Body.AssigneeID})
	})

	handle(h, api, huma.Operation{
		OperationID: "bounty-history",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/history",
		Summary:     "Bounty event history",
	}, func(ctx context.Context, p auth.Principal, in *bountyPath) (EventList, error) {
		res, err := h.e.History(ctx, p, in.BountyID)
		return EventList{Events: res}, err
	})
}

func (h handlers) registerApplications(api huma.API) {
	handle(h, api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/bounties/{bounty_id}/applications",
		Summary:       "Apply to an open bounty",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, p auth.Principal, in *struct {
		BountyID string `path:"bounty_id"`
		Body     ApplyBody
	}) (domain.Application, error) {
		return h.e.Apply(ctx, p, engine.ApplyRequest{BountyID: in.BountyID, Pitch: in.Body.Pitch, EstimatedHours: in.Body.EstimatedHours})
	})

	handle(h, api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/bounties/{bounty_id}/applications",
		Summary:     "List applications of a bounty",
	}, func(ctx context.Context, p auth.Principal, in *bountyPath) (ApplicationList, error) {
		res, err := h.e.ListApplications(ctx, p, in.BountyID)
		return ApplicationList{Applications: res}, err
	})

	type applicationPath struct {
		ApplicationID string `path:"application_id"`
	}
	handle(h, api, huma.Operation{
		OperationID: "accept-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/accept",
		Summary:     "Accept an application and assign the bounty",
	}, func(ctx context.Context, p auth.Principal, in *applicationPath) (domain.Bounty, error) {
		return h.e.AcceptApplication(ctx, p, engine.AcceptApplicationRequest{ApplicationID: in.ApplicationID})
	})

	handle(h, api, huma.Operation{
		OperationID: "reject-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/reject",
		Summary:     "Reject an application",
	}, func(ctx context.Context, p auth.Principal, in *applicationPath) (domain.Application, error) {
		return h.e.RejectApplication(ctx, p, engine.RejectApplicationRequest{ApplicationID: in.ApplicationID})
	})
}

type submissionPath struct {
	SubmissionID string `path:"submission_id"`
}

func (h handlers) registerSubmissions(api huma.API) {
	handle(h, api, huma.Operation{
		OperationID:   "submit-work",
		Method:        http.MethodPost,
		Path:          "/bounties/{bounty_id}/submissions",
		Summary:       "Submit work for an assigned bounty",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, p auth.Principal, in *struct {
		BountyID string `path:"bounty_id"`
		Body     SubmitWorkBody
	}) (domain.Submission, error) {
		return h.e.SubmitWork(ctx, p, engine.SubmitWorkRequest{
			BountyID: in.BountyID,
			PRURL:    in.Body.PRURL,
			Links:    in.Body.Links,
			Notes:    in.Body.Notes,
		})
	})

	handle(h, api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}",
		Summary:     "Get submission",
	}, func(ctx context.Context, p auth.Principal, in *submissionPath) (domain.Submission, error) {
		return h.e.GetSubmission(ctx, p, in.SubmissionID)
	})

	handle(h, api, huma.Operation{
		OperationID: "approve-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/approve",
		Summary:     "Approve a submission and complete the bounty",
	}, func(ctx context.Context, p auth.Principal, in *submissionPath) (domain.Submission, error) {
		return h.e.ApproveSubmission(ctx, p, engine.ApproveSubmissionRequest{SubmissionID: in.SubmissionID})
	})

	handle(h, api, huma.Operation{
		OperationID: "reject-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/reject",
		Summary:     "Reject a submission",
	}, func(ctx context.Context, p auth.Principal, in *struct {
		SubmissionID string `path:"submission_id"`
		Body         RejectSubmissionBody
	}) (domain.Submission, error) {
		return h.e.RejectSubmission(ctx, p, engine.RejectSubmissionRequest{SubmissionID: in.SubmissionID, Reason: in.Body.RejectionReason})
	})
}

func (h handlers) registerDisputes(api huma.API) {
	handle(h, api, huma.Operation{
		OperationID:   "open-dispute",
		Method:        http.MethodPost,
		Path:          "/submissions/{submission_id}/disputes",
		Summary:       "Dispute a rejected submission",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, p auth.Principal, in *struct {
		SubmissionID string `path:"submission_id"`
		Body         OpenDisputeBody
	}) (domain.Dispute, error) {
		return h.e.OpenDispute(ctx, p, engine.OpenDisputeRequest{SubmissionID: in.SubmissionID, Reason: in.Body.Reason, Evidence: in.Body.Evidence})
	})

	type disputePath struct {
		DisputeID string `path:"dispute_id"`
	}
	handle(h, api, huma.Operation{
		OperationID: "get-dispute",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}",
		Summary:     "Get dispute",
	}, func(ctx context.Context, p auth.Principal, in *disputePath) (domain.Dispute, error) {
		return h.e.GetDispute(ctx, p, in.DisputeID)
	})

	handle(h, api, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/resolve",
		Summary:     "Resolve an open dispute",
	}, func(ctx context.Context, p auth.Principal, in *struct {
		DisputeID string `path:"dispute_id"`
		Body      ResolveDisputeBody
	}) (domain.Dispute, error) {
		return h.e.ResolveDispute(ctx, p, engine.ResolveDisputeRequest{DisputeID: in.DisputeID, Resolution: in.Body.Resolution})
	})
}

func (h handlers) registerExtensions(api huma.API) {
	handle(h, api, huma.Operation{
		OperationID:   "request-extension",
		Method:        http.MethodPost,
		Path:          "/bounties/{bounty_id}/extensions",
		Summary:       "Request a deadline extension",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, p auth.Principal, in *struct {
		BountyID string `path:"bounty_id"`
		Body     RequestExtensionBody
	}) (domain.ExtensionRequest, error) {
		return h.e.RequestExtension(ctx, p, engine.RequestExtensionRequest{BountyID: in.BountyID, NewDeadline: in.Body.NewDeadline, Reason: in.Body.Reason})
	})

	handle(h, api, huma.Operation{
		OperationID: "decide-extension",
		Method:      http.MethodPost,
		Path:        "/extensions/{extension_id}/decide",
		Summary:     "Approve or reject a deadline extension",
	}, func(ctx context.Context, p auth.Principal, in *struct {
		ExtensionID string `path:"extension_id"`
		Body        DecideExtensionBody
	}) (domain.ExtensionRequest, error) {
		return h.e.DecideExtension(ctx, p, engine.DecideExtensionRequest{ExtensionID: in.ExtensionID, Approve: in.Body.Approve})
	})
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
