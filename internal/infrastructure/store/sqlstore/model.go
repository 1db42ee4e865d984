package sqlstore

import "time"

// messageRow is the row-level encoding of transcript.Message.
type messageRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Sender    string `gorm:"size:128;not null"`
	Content   string `gorm:"type:text;not null"`
	Timestamp time.Time
	Metadata  string `gorm:"type:text"` // JSON-encoded metadata bag
}

func (messageRow) TableName() string { return "messages" }

// conversationMetaRow is a single-row table carrying the keyed metadata
// bag. The store only ever operates on the row with ID=1.
type conversationMetaRow struct {
	ID                   uint   `gorm:"primaryKey"`
	ConversationID       string `gorm:"size:36"`
	TotalTurns           int
	PerSenderTurns       string // JSON-encoded map[string]int
	TotalTokens          int64
	Terminated           bool
	TerminationReason    string
	TerminationTimestamp *time.Time
	CreatedAt            time.Time
}

func (conversationMetaRow) TableName() string { return "conversation_meta" }
