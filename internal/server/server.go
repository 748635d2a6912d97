package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/events"
	"testline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Testline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Testline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerSuites(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerSharedData(group, cfg.Engine)
	registerGeneration(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "cycle"):
		return newAPIError(http.StatusConflict, "dependency_cycle", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "reorder"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "no steps"):
		return newAPIError(http.StatusUnprocessableEntity, "not_runnable", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Testline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		p, err := e.CreateProject(ctx, input.Body.Name, deref(input.Body.Description), deref(input.Body.OwnerID), input.Body.Members)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with suites and cases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Case counts by status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		cases, err := e.Repo.ListProjectCases(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts := map[string]int{}
		for _, tc := range cases {
			counts[tc.Status]++
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: ProjectStatusResponse{ProjectID: input.ProjectID, Total: len(cases), CaseCounts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSuites(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-suite",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/suites",
		Summary:       "Create test suite",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateSuiteRequest `json:"body"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		s, err := e.CreateTestSuite(ctx, input.ProjectID, input.Body.Name, deref(input.Body.Description))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suite",
		Method:      http.MethodGet,
		Path:        "/suites/{suite_id}",
		Summary:     "Get test suite with cases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuiteID string `path:"suite_id"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		s, err := e.GetTestSuite(ctx, input.SuiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-suite",
		Method:      http.MethodPatch,
		Path:        "/suites/{suite_id}",
		Summary:     "Update test suite",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuiteID string             `path:"suite_id"`
		Body    UpdateSuiteRequest `json:"body"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		s, err := e.UpdateTestSuite(ctx, input.SuiteID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-suite",
		Method:        http.MethodDelete,
		Path:          "/suites/{suite_id}",
		Summary:       "Delete test suite",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuiteID string `path:"suite_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTestSuite(ctx, input.SuiteID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCases(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/suites/{suite_id}/cases",
		Summary:       "Create test case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SuiteID string            `path:"suite_id"`
		Body    CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCase `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		opts := engine.CaseCreateOptions{
			TestSuiteID:  input.SuiteID,
			Name:         input.Body.Name,
			Description:  deref(input.Body.Description),
			Requirement:  deref(input.Body.Requirement),
			Target:       deref(input.Body.Target),
			Type:         input.Body.Type,
			Status:       input.Body.Status,
			Dependencies: input.Body.Dependencies,
			SharedData:   input.Body.SharedData,
		}
		for _, s := range input.Body.Steps {
			opts.Steps = append(opts.Steps, stepFromRequest(s))
		}
		tc, err := e.CreateTestCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCase `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get test case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.TestCase `json:"body"`
	}, error) {
		tc, err := e.GetTestCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCase `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Update test case",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCase `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tc, err := e.UpdateTestCase(ctx, input.CaseID, engine.CaseUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Requirement: input.Body.Requirement,
			Target:      input.Body.Target,
			Type:        input.Body.Type,
			Status:      input.Body.Status,
			SharedData:  input.Body.SharedData,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCase `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-case",
		Method:        http.MethodDelete,
		Path:          "/cases/{case_id}",
		Summary:       "Delete test case",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTestCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSteps(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-step",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/steps",
		Summary:       "Add a step to a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string      `path:"case_id"`
		Body   StepRequest `json:"body"`
	}) (*struct {
		Body domain.TestStep `json:"body"`
	}, error) {
		s, err := e.AddTestStep(ctx, input.CaseID, stepFromRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestStep `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-step",
		Method:      http.MethodPatch,
		Path:        "/steps/{step_id}",
		Summary:     "Update a step",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StepID string            `path:"step_id"`
		Body   UpdateStepRequest `json:"body"`
	}) (*struct {
		Body domain.TestStep `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		s, err := e.UpdateTestStep(ctx, input.StepID, repo.StepUpdate{
			Description:     input.Body.Description,
			Action:          input.Body.Action,
			Selector:        input.Body.Selector,
			Value:           input.Body.Value,
			ExpectedOutcome: input.Body.ExpectedOutcome,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestStep `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-step",
		Method:        http.MethodDelete,
		Path:          "/steps/{step_id}",
		Summary:       "Delete a step",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StepID string `path:"step_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTestStep(ctx, input.StepID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-steps",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/steps/order",
		Summary:     "Reorder the steps of a case",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   ReorderStepsRequest `json:"body"`
	}) (*struct {
		Body []domain.TestStep `json:"body"`
	}, error) {
		steps, err := e.ReorderTestSteps(ctx, input.CaseID, input.Body.StepIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TestStep `json:"body"`
		}{Body: steps}, nil
	})
}

func registerDependencies(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/dependencies",
		Summary:       "Add a dependency edge",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   AddDependencyRequest `json:"body"`
	}) (*struct {
		Body domain.TestCase `json:"body"`
	}, error) {
		if input.Body.DependsOnID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "depends_on_id is required", nil)
		}
		if err := e.AddDependency(ctx, input.CaseID, input.Body.DependsOnID); err != nil {
			return nil, handleError(err)
		}
		tc, err := e.GetTestCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCase `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-dependency",
		Method:        http.MethodDelete,
		Path:          "/cases/{case_id}/dependencies/{depends_on_id}",
		Summary:       "Remove a dependency edge",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID      string `path:"case_id"`
		DependsOnID string `path:"depends_on_id"`
	}) (*struct{}, error) {
		if err := e.RemoveDependency(ctx, input.CaseID, input.DependsOnID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dependency-tree",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/dependencies/tree",
		Summary:     "Resolve the dependency tree of a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body *domain.DependencyNode `json:"body"`
	}, error) {
		tree, err := e.DependencyTree(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.DependencyNode `json:"body"`
		}{Body: tree}, nil
	})
}

func registerSharedData(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-shared-data",
		Method:      http.MethodGet,
		Path:        "/shared-data",
		Summary:     "List shared data items",
	}, func(ctx context.Context, input *struct {
		SourceCaseID string `query:"source_case_id"`
	}) (*struct {
		Body []SharedDataResponse `json:"body"`
	}, error) {
		var (
			items []domain.SharedDataItem
			err   error
		)
		if input.SourceCaseID != "" {
			items, err = e.ListSharedDataBySource(ctx, input.SourceCaseID)
		} else {
			items, err = e.ListSharedData(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SharedDataResponse `json:"body"`
		}{Body: mapSharedData(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shared-data-object",
		Method:      http.MethodGet,
		Path:        "/shared-data/object",
		Summary:     "All shared data folded into one key/value object",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		obj, err := e.SharedDataObject(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: obj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-shared-data",
		Method:        http.MethodDelete,
		Path:          "/shared-data",
		Summary:       "Clear shared data, optionally only one case's items",
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct {
		SourceCaseID string `query:"source_case_id"`
	}) (*struct {
		Body ClearSharedDataResponse `json:"body"`
	}, error) {
		n, err := e.ClearSharedData(ctx, input.SourceCaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearSharedDataResponse `json:"body"`
		}{Body: ClearSharedDataResponse{Removed: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-shared-data",
		Method:      http.MethodPut,
		Path:        "/shared-data",
		Summary:     "Create or update a shared data item by key",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpsertSharedDataRequest `json:"body"`
	}) (*struct {
		Body SharedDataResponse `json:"body"`
	}, error) {
		if input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "key is required", nil)
		}
		item, err := e.UpsertSharedData(ctx, input.Body.Key, string(input.Body.Value), deref(input.Body.Description), deref(input.Body.SourceCaseID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SharedDataResponse `json:"body"`
		}{Body: sharedDataResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shared-data",
		Method:      http.MethodGet,
		Path:        "/shared-data/{id}",
		Summary:     "Get a shared data item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SharedDataResponse `json:"body"`
	}, error) {
		item, err := e.GetSharedData(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SharedDataResponse `json:"body"`
		}{Body: sharedDataResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-shared-data",
		Method:      http.MethodPatch,
		Path:        "/shared-data/{id}",
		Summary:     "Rewrite the value of a shared data item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateSharedDataRequest `json:"body"`
	}) (*struct {
		Body SharedDataResponse `json:"body"`
	}, error) {
		item, err := e.UpdateSharedDataValue(ctx, input.ID, string(input.Body.Value))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SharedDataResponse `json:"body"`
		}{Body: sharedDataResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-shared-data",
		Method:        http.MethodDelete,
		Path:          "/shared-data/{id}",
		Summary:       "Delete a shared data item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteSharedData(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGeneration(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-case",
		Method:        http.MethodPost,
		Path:          "/suites/{suite_id}/generate",
		Summary:       "Generate a draft case from a requirement",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuiteID string              `path:"suite_id"`
		Body    GenerateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCase `json:"body"`
	}, error) {
		if input.Body.Requirement == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "requirement is required", nil)
		}
		tc, err := e.GenerateTestCase(ctx, input.SuiteID, input.Body.Requirement, input.Body.Dependencies)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCase `json:"body"`
		}{Body: tc}, nil
	})
}

func registerRuns(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-case",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/run",
		Summary:       "Run a case in the simulator",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CaseID string         `path:"case_id"`
		Body   RunCaseRequest `json:"body"`
	}) (*struct {
		Body domain.RunReport `json:"body"`
	}, error) {
		rep, err := e.RunTestCase(ctx, input.CaseID, engine.RunOptions{Browser: input.Body.Browser})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List run reports",
	}, func(ctx context.Context, input *struct {
		CaseID string `query:"case_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.RunReport `json:"body"`
	}, error) {
		items, err := e.Repo.ListReports(ctx, input.CaseID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.RunReport{}
		}
		return &struct {
			Body []domain.RunReport `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get a run report with logs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body domain.RunReport `json:"body"`
	}, error) {
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunReport `json:"body"`
		}{Body: rep}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after"`
		Limit int   `query:"limit"`
	}) (*struct {
		Body []events.Event `json:"body"`
	}, error) {
		items, err := events.After(ctx, e.DB, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []events.Event{}
		}
		return &struct {
			Body []events.Event `json:"body"`
		}{Body: items}, nil
	})
}
