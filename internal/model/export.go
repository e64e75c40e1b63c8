package model

import "time"

// ClassExport is the top-level JSON structure for the export command.
type ClassExport struct {
	ExportedAt  time.Time      `json:"exported_at"`
	Status      TestStatus     `json:"status"`
	Published   *PublishedTest `json:"published,omitempty"`
	Questions   []Question     `json:"questions"`
	Submissions []Submission   `json:"submissions"`
	Scores      []ScoreRecord  `json:"scores"`
	Ingestion   *Ingestion     `json:"ingestion,omitempty"`
}
