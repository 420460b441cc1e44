package model

// Pipeline is CRM reference data; replaced wholesale on each sync.
type Pipeline struct {
	CRMID        string `json:"crm_id"`
	Label        string `json:"label"`
	DisplayOrder int    `json:"display_order"`
}

// PipelineStage belongs to exactly one pipeline.
type PipelineStage struct {
	CRMID        string  `json:"crm_id"`
	PipelineID   string  `json:"pipeline_id"`
	Label        string  `json:"label"`
	DisplayOrder int     `json:"display_order"`
	Probability  float64 `json:"probability"`
	IsClosed     bool    `json:"is_closed"`
	IsWon        bool    `json:"is_won"`
}
