package api

// DataResponse is the payload for a successful POST /data.
type DataResponse struct {
	OK        bool   `json:"ok"`
	SubjectID string `json:"subject_id"`
	State     string `json:"state"`
}

// RemedyResponse is the payload for a successful POST /remedy.
type RemedyResponse struct {
	OK        bool   `json:"ok"`
	SubjectID string `json:"subject_id"`
	Remedy    string `json:"remedy"`
	Cached    bool   `json:"cached"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	SubjectCount        int  `json:"subject_count"`
	RelaxedCount        int  `json:"relaxed_count"`
	NormalCount         int  `json:"normal_count"`
	StressedCount       int  `json:"stressed_count"`
	UnknownCount        int  `json:"unknown_count"`
	AlertCount          int  `json:"alert_count"`
	GeneratorConfigured bool `json:"generator_configured"`
}

// SubjectResponse is one subject in GET /latest_all, GET /api/v1/subjects
// and GET /api/v1/subjects/{id}. Field names match the /latest_all payload
// devices already consume; absent readings are null.
type SubjectResponse struct {
	SubjectID   string           `json:"subject_id"`
	BPM         *float64         `json:"bpm"`
	TempC       *float64         `json:"temp"`
	PulseAt     *string          `json:"ts_bpm"`  // RFC3339
	TempAt      *string          `json:"ts_temp"` // RFC3339
	StressIndex *float64         `json:"stress_index"`
	State       string           `json:"state"`
	Remedy      *string          `json:"remedy"`
	RemedyAt    *string          `json:"ts_remedy"` // RFC3339
	RemedyFresh bool             `json:"remedy_fresh"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Subjects    []SubjectResponse `json:"subjects"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// errorResponse is the JSON error body of every failed request.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
