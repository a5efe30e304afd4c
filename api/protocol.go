package api

const maxBodySize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/tasks request body
type createTaskRequest struct {
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Deadline string `json:"deadline"`
	UserID   string `json:"userID"`
	Stage    int    `json:"stage"`
}

// PUT /api/tasks/:id request body
type updateTaskRequest struct {
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Deadline string `json:"deadline"`
	UserID   string `json:"userID"`
}

// PATCH /api/tasks/:id request body
type moveTaskRequest struct {
	Stage int `json:"stage"`
}

// POST /api/tasks/:id/advance request body
type advanceTaskRequest struct {
	Direction string `json:"direction"`
}

// POST /api/tasks/:id/reorder request body
type reorderTaskRequest struct {
	Stage            int  `json:"stage"`
	DestinationIndex int  `json:"destinationIndex"`
	SourceIndex      *int `json:"sourceIndex,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
