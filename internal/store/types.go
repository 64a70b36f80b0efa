package store

// Job is a queue store record borrowed under an exclusive lease.
// Data is the free-form JSONB blob owned by the store; the runner only
// interprets a handful of well-known fields.
type Job struct {
	Key         string         `json:"key"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Data        map[string]any `json:"data"`
}

// ApplyURL returns the job's execution target, or "" when the record
// is missing one (a data-integrity condition the runner classifies).
func (j *Job) ApplyURL() string {
	if j == nil || j.Data == nil {
		return ""
	}
	u, _ := j.Data["applyUrl"].(string)
	return u
}

// UpsertRequest describes one idempotent result write.
//
// Force fields always overwrite the stored record. Soft fields are only
// written where the record currently lacks that field, so duplicate or
// out-of-order reports converge without clobbering earlier enrichment.
type UpsertRequest struct {
	Key         string
	Force       map[string]any
	Soft        map[string]any
	Fingerprint string
	Source      string
}
