package server

import (
	"encoding/json"

	"testline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	OwnerID     *string  `json:"owner_id,omitempty"`
	Members     []string `json:"members,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateSuiteRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateSuiteRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateCaseRequest struct {
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	Requirement  *string        `json:"requirement,omitempty"`
	Target       *string        `json:"target,omitempty"`
	Type         string         `json:"type,omitempty" enum:"positive,negative,edge_case"`
	Status       string         `json:"status,omitempty" enum:"draft,ready,running,passed,failed,blocked"`
	Steps        []StepRequest  `json:"steps,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	SharedData   map[string]any `json:"shared_data,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type UpdateCaseRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Requirement *string         `json:"requirement,omitempty"`
	Target      *string         `json:"target,omitempty"`
	Type        *string         `json:"type,omitempty" enum:"positive,negative,edge_case"`
	Status      *string         `json:"status,omitempty" enum:"draft,ready,running,passed,failed,blocked"`
	SharedData  *map[string]any `json:"shared_data,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type StepRequest struct {
	Description     *string `json:"description,omitempty"`
	Action          string  `json:"action" enum:"navigate,click,fill,assert,wait,hover"`
	Selector        string  `json:"selector"`
	Value           *string `json:"value,omitempty"`
	ExpectedOutcome *string `json:"expected_outcome,omitempty"`
	Order           int     `json:"order,omitempty" minimum:"0"`
}

type UpdateStepRequest struct {
	Description     *string `json:"description,omitempty"`
	Action          *string `json:"action,omitempty" enum:"navigate,click,fill,assert,wait,hover"`
	Selector        *string `json:"selector,omitempty"`
	Value           *string `json:"value,omitempty"`
	ExpectedOutcome *string `json:"expected_outcome,omitempty"`
}

type ReorderStepsRequest struct {
	StepIDs []string `json:"step_ids"`
}

type AddDependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
}

type GenerateCaseRequest struct {
	Requirement  string   `json:"requirement"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type UpsertSharedDataRequest struct {
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	Description  *string         `json:"description,omitempty"`
	SourceCaseID *string         `json:"source_case_id,omitempty"`
}

type UpdateSharedDataRequest struct {
	Value json.RawMessage `json:"value"`
}

type RunCaseRequest struct {
	Browser string `json:"browser,omitempty" enum:"chrome,firefox,safari,edge"`
}

// Response payloads

type ProjectStatusResponse struct {
	ProjectID  string         `json:"project_id"`
	Total      int            `json:"total"`
	CaseCounts map[string]int `json:"case_counts"`
}

type ClearSharedDataResponse struct {
	Removed int64 `json:"removed"`
}

type SharedDataResponse struct {
	ID           string          `json:"id"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	Description  string          `json:"description,omitempty"`
	SourceCaseID string          `json:"source_case_id,omitempty"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
	UpdatedAt    string          `json:"updated_at" format:"date-time"`
}

func sharedDataResponse(item domain.SharedDataItem) SharedDataResponse {
	return SharedDataResponse{
		ID:           item.ID,
		Key:          item.Key,
		Value:        json.RawMessage(item.ValueJSON),
		Description:  item.Description,
		SourceCaseID: item.SourceCaseID,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

func mapSharedData(items []domain.SharedDataItem) []SharedDataResponse {
	res := make([]SharedDataResponse, 0, len(items))
	for _, item := range items {
		res = append(res, sharedDataResponse(item))
	}
	return res
}

func stepFromRequest(req StepRequest) domain.TestStep {
	return domain.TestStep{
		Description:     deref(req.Description),
		Action:          req.Action,
		Selector:        req.Selector,
		Value:           deref(req.Value),
		ExpectedOutcome: deref(req.ExpectedOutcome),
		Order:           req.Order,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
