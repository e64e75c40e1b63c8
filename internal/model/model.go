package model

import "time"

// SourceKind identifies which extraction branch produced something.
type SourceKind string

const (
	SourceAudio    SourceKind = "audio"
	SourceDocument SourceKind = "document"
)

// JobStatus tracks a single extraction job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ExtractionJob is one branch of an ingestion request. Terminal on done/failed.
type ExtractionJob struct {
	SourcePath string     `json:"source_path"`
	Kind       SourceKind `json:"kind"`
	OutputPath string     `json:"output_path"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j ExtractionJob) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// EventType distinguishes progress updates from extracted content.
type EventType string

const (
	EventStatus  EventType = "status"
	EventContent EventType = "content"
)

// ProgressEvent is an immutable progress update emitted by an extraction adapter.
type ProgressEvent struct {
	Type      EventType  `json:"type"`
	Source    SourceKind `json:"source,omitempty"`
	Message   string     `json:"message,omitempty"`
	Content   string     `json:"content,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusEvent builds a status event stamped with the current time.
func StatusEvent(msg string) ProgressEvent {
	return ProgressEvent{Type: EventStatus, Message: msg, Timestamp: time.Now()}
}

// ContentEvent builds a content event stamped with the current time.
func ContentEvent(content string) ProgressEvent {
	return ProgressEvent{Type: EventContent, Content: content, Timestamp: time.Now()}
}

// SetStatus is the lifecycle state of the AI-generated question set.
type SetStatus string

const (
	StatusNotGenerated SetStatus = "not_generated"
	StatusGenerated    SetStatus = "generated"
	StatusPublished    SetStatus = "published"
)

// QuestionSet is the current AI-generated draft. Persisted as the
// generated-questions record.
type QuestionSet struct {
	ID            string     `json:"id,omitempty"`
	Questions     []string   `json:"questions"`
	GeneratedDate time.Time  `json:"generated_date"`
	Status        SetStatus  `json:"status"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
}

// PublishedTest is the frozen, student-visible snapshot of a QuestionSet.
type PublishedTest struct {
	SetID         string    `json:"set_id"`
	Questions     []string  `json:"questions"`
	PublishedDate time.Time `json:"published_date"`
	Withdrawn     bool      `json:"withdrawn,omitempty"`
}

// TestStatus is what polling clients use to decide whether a test is visible.
type TestStatus struct {
	Exists         bool       `json:"exists"`
	Status         SetStatus  `json:"status"`
	SetID          string     `json:"set_id,omitempty"`
	GeneratedDate  *time.Time `json:"generated_date,omitempty"`
	PublishedDate  *time.Time `json:"published_date,omitempty"`
	PublishedSetID string     `json:"published_set_id,omitempty"`
	PublishedStale bool       `json:"published_stale"`
	Withdrawn      bool       `json:"withdrawn,omitempty"`
}

// QA is a single question/answer pair within a submission.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Submission is one entry of the append-only submissions log.
type Submission struct {
	StudentName string    `json:"student_name"`
	Timestamp   time.Time `json:"timestamp"`
	QA          []QA      `json:"questions_and_answers"`
}

// ScoreRecord is one entry of the score ledger.
type ScoreRecord struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Total int    `json:"total"`
}

// Result is the outcome of evaluating answers against the answer key.
type Result struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// Question is an admin-authored multiple choice question. It lives in its own
// store and is never merged with the AI-generated QuestionSet.
type Question struct {
	Text    string   `json:"question" validate:"required"`
	Options []string `json:"options" validate:"len=4,dive,required"`
	Answer  string   `json:"answer" validate:"required"`
}

// Ingestion records where the last ingestion wrote its artifacts.
type Ingestion struct {
	AudioOutput    string          `json:"audio_output"`
	DocumentOutput string          `json:"document_output"`
	Jobs           []ExtractionJob `json:"jobs"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// Report is the grading orchestrator's output.
type Report struct {
	Analysis         string       `json:"ai_analysis"`
	TotalSubmissions int          `json:"total_submissions"`
	Submissions      []Submission `json:"submissions"`
	GradedAt         time.Time    `json:"graded_at"`
}

// Config holds runtime parameters set via flags, env or config file.
type Config struct {
	DataDir                string
	OutputDir              string
	UploadDir              string
	NumQuestions           int
	InvalidateOnRegenerate bool
	Lang                   string
}
