package models

// SystemHealth is the admin-facing platform status snapshot.
type SystemHealth struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Database  string                 `json:"database"`
	GeminiAPI string                 `json:"gemini_api"`
	Metrics   map[string]interface{} `json:"metrics"`
}
