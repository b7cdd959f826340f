package model

// SolverQuestion is the projection of a question sent to the solver.
type SolverQuestion struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"`
}

// Answer is one entry of a solver answer key.
type Answer struct {
	QNum   int    `json:"q_num"`
	Answer string `json:"answer"`
	Detail string `json:"detail,omitempty"`
}

// AnswerKey is the decoded form of a solver result.
type AnswerKey struct {
	Answers []Answer `json:"answers"`
	Error   string   `json:"error,omitempty"`
}

// EventType identifies an analysis progress event.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventError    EventType = "error"
	EventFinish   EventType = "finish"
)

// DetectedQuestion is a question found by document analysis.
type DetectedQuestion struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Image     string `json:"image"`
	ImagePath string `json:"image_path"`
	Page      int    `json:"page"`
	// BBox is [left, top, right, bottom] in page pixels.
	BBox       []float64 `json:"bbox,omitempty"`
	Difficulty int       `json:"difficulty"`
	Topic      string    `json:"topic"`
}

// AnalysisEvent is one line of the document analysis stream.
type AnalysisEvent struct {
	Type      EventType          `json:"type"`
	Total     int                `json:"total,omitempty"`
	Current   int                `json:"current,omitempty"`
	Message   string             `json:"message,omitempty"`
	Questions []DetectedQuestion `json:"questions,omitempty"`
}

// ExportRequest describes a PDF rendering job.
type ExportRequest struct {
	ImagePaths   []string `json:"image_paths"`
	OutputPath   string   `json:"output_path"`
	TemplatePath string   `json:"template_path,omitempty"`
	MarginsJSON  string   `json:"margins_json,omitempty"`
}

// TemplateAnalysis is the result of analyzing a template document.
type TemplateAnalysis struct {
	Margins       Margins `json:"margins"`
	PreviewBase64 string  `json:"preview_base64"`
}
