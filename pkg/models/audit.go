package models

import "time"

// AuditEntry records one served generation.
type AuditEntry struct {
	RequestID   string    `json:"request_id"`
	Modality    Modality  `json:"modality"`
	Fingerprint string    `json:"fingerprint"`
	Model       string    `json:"model"`
	Source      Source    `json:"source,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Client      string    `json:"client,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditConfig controls the generation log.
type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DBPath         string `yaml:"db_path"`
	RetentionDays  int    `yaml:"retention_days"`
	IncludePrompts bool   `yaml:"include_prompts"`
	MaxPromptSize  int    `yaml:"max_prompt_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Modality  Modality
	Status    string
	Since     time.Time
	RequestID string
	CacheHit  *bool
	Limit     int
}

// AuditStat holds aggregate audit counts for a modality/day combination.
type AuditStat struct {
	Modality  Modality
	Day       string
	Count     int
	CacheHits int
	Errors    int
}
