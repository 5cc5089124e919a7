package hermes

import "log/slog"

// Subjects published by ferry runs.
const (
	SubjectExtractCompleted = "ferry.extract.completed"
	SubjectLoadCompleted    = "ferry.load.completed"
	SubjectEntityFailed     = "ferry.entity.failed"
)

// ExtractCompleted is emitted after an extraction run has written its files.
type ExtractCompleted struct {
	RunID     string `json:"run_id"`
	Prefix    string `json:"prefix"`
	From      string `json:"from"`
	To        string `json:"to"`
	Chats     int    `json:"chats"`
	Contacts  int    `json:"contacts"`
	Messages  int    `json:"messages"`
	Timestamp string `json:"timestamp"`
}

// LoadCompleted is emitted after a load run has written its snapshots and checkpoint.
type LoadCompleted struct {
	RunID             string `json:"run_id"`
	Prefix            string `json:"prefix"`
	DryRun            bool   `json:"dry_run"`
	ContactsProcessed int    `json:"contacts_processed"`
	ChatsProcessed    int    `json:"chats_processed"`
	MessagesProcessed int    `json:"messages_processed"`
	Failed            int    `json:"failed"`
	Timestamp         string `json:"timestamp"`
}

// EntityFailed is emitted for every entity a load run skips because of an error.
type EntityFailed struct {
	RunID     string `json:"run_id"`
	Entity    string `json:"entity"`
	SourceID  string `json:"source_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Emit publishes ev on subject. A failed publish is logged and otherwise ignored so that
// events never fail a run.
func Emit(p Publisher, logger *slog.Logger, subject string, ev any) {
	if p == nil {
		return
	}
	if err := p.Publish(subject, ev); err != nil {
		logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}
