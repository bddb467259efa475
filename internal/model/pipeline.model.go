package model

import "time"

const (
	PipelineSourceWebhook = "webhook"
	PipelineSourceWorker  = "worker"
	PipelineSourceManual  = "manual"
)

// PipelineHistory is an append-only audit row of a stage a thread passed.
type PipelineHistory struct {
	ID           int64     `json:"id"`
	ThreadID     int64     `json:"thread_id"`
	PipelineName string    `json:"pipeline_name"`
	StageName    string    `json:"stage_name"`
	Source       string    `json:"source"`
	ChangedUTC   time.Time `json:"changed_utc"`
}
