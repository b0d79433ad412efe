package api

import (
	"encoding/base64"
	"time"

	"script-sandbox/internal/capture"
	"script-sandbox/internal/service"
)

// ExecuteRequest is the API-level request to run a script.
type ExecuteRequest struct {
	Code          string   `json:"code"`
	Language      string   `json:"language"` // python (node and bash are reserved)
	Timeout       Duration `json:"timeout,omitempty"`
	MemoryLimitMB int64    `json:"memory_limit_mb,omitempty"`
	CallerID      string   `json:"caller_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecuteResponse is the API-level result of a script execution.
type ExecuteResponse struct {
	ExecutionID     string         `json:"execution_id"`
	Success         bool           `json:"success"`
	Status          string         `json:"status"`
	Output          string         `json:"output"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	MemoryPeakMB    int64          `json:"memory_peak_mb"`
	CPUTimeMS       int64          `json:"cpu_time_ms"`
	Images          []ImagePayload `json:"images,omitempty"`
}

// ImagePayload carries one extracted chart image, base64-encoded.
type ImagePayload struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
}

func toResponse(out *service.Outcome) ExecuteResponse {
	resp := ExecuteResponse{
		ExecutionID:     out.ExecutionID,
		Success:         out.Success,
		Status:          out.Status,
		Output:          out.Output,
		Error:           out.Error,
		ExecutionTimeMS: out.ExecutionTimeMS,
		MemoryPeakMB:    out.MemoryPeakMB,
		CPUTimeMS:       out.CPUTimeMS,
	}
	for _, img := range out.Images {
		resp.Images = append(resp.Images, toImagePayload(img))
	}
	return resp
}

func toImagePayload(img capture.Image) ImagePayload {
	return ImagePayload{
		Name:   img.Name,
		Format: img.Format,
		Width:  img.Width,
		Height: img.Height,
		Data:   base64.StdEncoding.EncodeToString(img.Data),
	}
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
