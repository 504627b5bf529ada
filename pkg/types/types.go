package types

import "time"

type CreateSessionReq struct {
	Provider string `json:"provider" binding:"required"`
}

type CreateSessionResp struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	WSURL     string `json:"ws_url"`
	// Token is empty when stream auth is disabled.
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SummaryResp struct {
	SessionID    string     `json:"session_id"`
	Provider     string     `json:"provider"`
	State        string     `json:"state"`
	Live         bool       `json:"live"`
	EndReason    string     `json:"end_reason,omitempty"`
	InputFormat  string     `json:"input_format,omitempty"`
	OutputFormat string     `json:"output_format,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`

	FramesIn      int64 `json:"frames_in"`
	FramesOut     int64 `json:"frames_out"`
	FramesDropped int64 `json:"frames_dropped"`
	Interruptions int64 `json:"interruptions"`
	Turns         int64 `json:"turns"`
}

type ListSessionsResp struct {
	Sessions []SummaryResp `json:"sessions"`
}

type ProviderInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	InputFormat  string `json:"input_format"`
	OutputFormat string `json:"output_format"`
}

type ProvidersResp struct {
	Providers []ProviderInfo `json:"providers"`
}

type ErrorResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
