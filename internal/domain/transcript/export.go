package transcript

import (
	"gopkg.in/yaml.v3"
)

// Export is the YAML-serializable snapshot of a conversation: its full
// message log plus the metadata bag, suitable for archival or for handing
// to another tool that doesn't speak the store's native format.
type Export struct {
	ConversationID string               `yaml:"conversation_id"`
	Topic          string               `yaml:"topic,omitempty"`
	Metadata       ConversationMetadata `yaml:"metadata"`
	Messages       []exportedMessage    `yaml:"messages"`
}

type exportedMessage struct {
	ID        int64                  `yaml:"id"`
	Sender    string                 `yaml:"sender"`
	Content   string                 `yaml:"content"`
	Timestamp string                 `yaml:"timestamp"`
	Metadata  map[string]interface{} `yaml:"metadata,omitempty"`
}

// ExportYAML renders messages and meta as a YAML document. topic is
// recorded for readability since the transcript itself never stores it.
func ExportYAML(messages []*Message, meta *ConversationMetadata, topic string) ([]byte, error) {
	exp := Export{
		ConversationID: meta.ConversationID,
		Topic:          topic,
		Metadata:       *meta,
		Messages:       make([]exportedMessage, len(messages)),
	}
	for i, m := range messages {
		exp.Messages[i] = exportedMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			Metadata:  m.Metadata,
		}
	}
	return yaml.Marshal(exp)
}
