package daemon

// HealthResponse is returned from GET /v1/health.
type HealthResponse struct {
	PID        int    `json:"pid"`
	Repository string `json:"repository"`
	StartedAt  string `json:"started_at"`
}

// StatusResponse is returned from GET /v1/status.
type StatusResponse struct {
	Repository string     `json:"repository"`
	StartedAt  string     `json:"started_at"`
	InFlight   *Trigger   `json:"in_flight,omitempty"`
	Pending    *Trigger   `json:"pending,omitempty"`
	LastResult *RunResult `json:"last_result,omitempty"`
	// Dropped counts triggers discarded because one was already pending.
	Dropped  int    `json:"dropped"`
	Runs     int    `json:"runs"`
	Schedule string `json:"schedule,omitempty"`
	// Monitoring is set when the file watcher is running.
	Monitoring     bool `json:"monitoring"`
	WatchedDirs    int  `json:"watched_dirs"`
	PendingChanges int  `json:"pending_changes"`
}

// TriggerRequest is sent to POST /v1/trigger.
type TriggerRequest struct {
	Message string   `json:"message,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// TriggerResponse is returned from POST /v1/trigger.
type TriggerResponse struct {
	Queued bool `json:"queued"`
	// Dropped is set when another snapshot was already pending or running;
	// that snapshot covers the same changes.
	Dropped bool `json:"dropped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
