package domain

type Project struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	OwnerID     string      `json:"owner_id"`
	Members     []string    `json:"members,omitempty"`
	TestSuites  []TestSuite `json:"test_suites,omitempty"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
	UpdatedAt   string      `json:"updated_at" format:"date-time"`
}

type TestSuite struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TestCases   []TestCase `json:"test_cases,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

type TestCase struct {
	ID           string         `json:"id"`
	TestSuiteID  string         `json:"test_suite_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Requirement  string         `json:"requirement,omitempty"`
	Target       string         `json:"target,omitempty"`
	Type         string         `json:"type" enum:"positive,negative,edge_case"`
	Status       string         `json:"status" enum:"draft,ready,running,passed,failed,blocked"`
	Steps        []TestStep     `json:"steps"`
	Dependencies []string       `json:"dependencies,omitempty"`
	SharedData   map[string]any `json:"shared_data,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type TestStep struct {
	ID              string `json:"id"`
	TestCaseID      string `json:"test_case_id"`
	Order           int    `json:"order"`
	Description     string `json:"description,omitempty"`
	Action          string `json:"action" enum:"navigate,click,fill,assert,wait,hover"`
	Selector        string `json:"selector"`
	Value           string `json:"value,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// SharedDataItem is one named value in the propagation table. Keys are unique
// among current items; writes go through upsert-by-key.
type SharedDataItem struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	ValueJSON    string `json:"value_json"`
	Description  string `json:"description,omitempty"`
	SourceCaseID string `json:"source_case_id,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// DependencyNode is one node of a resolved dependency tree. Trees are
// transient: rebuilt from scratch per call, no identity across calls.
type DependencyNode struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Children []*DependencyNode `json:"children"`
}

type RunReport struct {
	ID           string     `json:"id"`
	TestCaseID   string     `json:"test_case_id"`
	TestCaseName string     `json:"test_case_name"`
	Status       string     `json:"status" enum:"passed,failed"`
	Browser      string     `json:"browser" enum:"chrome,firefox,safari,edge"`
	StartedAt    string     `json:"started_at" format:"date-time"`
	FinishedAt   string     `json:"finished_at" format:"date-time"`
	DurationMS   int64      `json:"duration_ms"`
	Logs         []LogEntry `json:"logs,omitempty"`
}

type LogEntry struct {
	TS      string `json:"ts" format:"date-time"`
	Level   string `json:"level" enum:"info,warning,error,debug"`
	Message string `json:"message"`
}
