package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"
)

const metaRowID = 1

// Store is the networked transcript.Store backend: every append and
// counter update runs inside one gorm transaction, so no external lock
// is required across processes.
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected, already-migrated *gorm.DB (see Connect)
// as a transcript.Store, seeding the metadata row if the table is empty.
func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	var count int64
	if err := db.Model(&conversationMetaRow{}).Count(&count).Error; err != nil {
		return nil, apperrors.NewStoreUnavailable("inspect conversation metadata table", err)
	}
	if count == 0 {
		perSender, _ := json.Marshal(map[string]int{})
		row := conversationMetaRow{
			ID:             metaRowID,
			ConversationID: uuid.New().String(),
			PerSenderTurns: string(perSender),
			CreatedAt:      time.Now().UTC(),
		}
		if err := db.Create(&row).Error; err != nil {
			return nil, apperrors.NewStoreUnavailable("seed conversation metadata", err)
		}
	}
	return s, nil
}

func (s *Store) Append(ctx context.Context, sender, content string, metadata map[string]interface{}, opts ...transcript.AppendOption) (*transcript.Message, error) {
	var options transcript.AppendOptions
	for _, opt := range opts {
		opt(&options)
	}

	normalized := transcript.NormalizeSender(sender)
	if normalized == "" {
		return nil, apperrors.NewInvalidInput("sender must not be empty")
	}
	if err := transcript.ValidateContent(content, 0); err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, apperrors.NewInvalidInput("metadata is not serializable")
	}

	var appended *transcript.Message
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta conversationMetaRow
		if err := tx.First(&meta, metaRowID).Error; err != nil {
			return apperrors.NewStoreUnavailable("load conversation metadata", err)
		}

		if options.HasExpectation {
			var last messageRow
			err := tx.Order("id desc").Limit(1).Take(&last).Error
			current := ""
			if err == nil {
				current = last.Sender
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewStoreUnavailable("read last sender", err)
			}
			if current != options.ExpectLastSender {
				return apperrors.NewTurnViolation(options.ExpectLastSender, current)
			}
		}

		now := time.Now().UTC()
		row := messageRow{
			Sender:    normalized,
			Content:   content,
			Timestamp: now,
			Metadata:  string(metaJSON),
		}
		if err := tx.Create(&row).Error; err != nil {
			return apperrors.NewStoreUnavailable("insert message", err)
		}

		perSender := map[string]int{}
		_ = json.Unmarshal([]byte(meta.PerSenderTurns), &perSender)
		perSender[normalized]++
		perSenderJSON, _ := json.Marshal(perSender)

		meta.TotalTurns++
		meta.PerSenderTurns = string(perSenderJSON)
		meta.TotalTokens += transcript.TokensOf(metadata)
		if err := tx.Save(&meta).Error; err != nil {
			return apperrors.NewStoreUnavailable("update conversation metadata", err)
		}

		appended = &transcript.Message{
			ID:        row.ID,
			Sender:    normalized,
			Content:   content,
			Timestamp: now,
			Metadata:  metadata,
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return appended, nil
}

func (s *Store) Context(ctx context.Context, limit int) ([]*transcript.Message, error) {
	if limit < 1 {
		limit = 1
	}
	var rows []messageRow
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperrors.NewStoreUnavailable("read context window", err)
	}
	result := make([]*transcript.Message, len(rows))
	for i, row := range rows {
		// rows arrive newest-first; place them oldest-first.
		result[len(rows)-1-i] = toDomainMessage(row)
	}
	return result, nil
}

func (s *Store) LastSender(ctx context.Context) (string, bool, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Order("id desc").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStoreUnavailable("read last sender", err)
	}
	return row.Sender, true, nil
}

func (s *Store) MarkTerminated(ctx context.Context, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta conversationMetaRow
		if err := tx.First(&meta, metaRowID).Error; err != nil {
			return apperrors.NewStoreUnavailable("load conversation metadata", err)
		}
		if meta.Terminated {
			return nil
		}
		now := time.Now().UTC()
		meta.Terminated = true
		meta.TerminationReason = reason
		meta.TerminationTimestamp = &now
		if err := tx.Save(&meta).Error; err != nil {
			return apperrors.NewStoreUnavailable("mark conversation terminated", err)
		}
		return nil
	})
}

func (s *Store) Terminated(ctx context.Context) (bool, error) {
	var meta conversationMetaRow
	if err := s.db.WithContext(ctx).First(&meta, metaRowID).Error; err != nil {
		return false, apperrors.NewStoreUnavailable("load conversation metadata", err)
	}
	return meta.Terminated, nil
}

func (s *Store) TerminationReason(ctx context.Context) (string, bool, error) {
	var meta conversationMetaRow
	if err := s.db.WithContext(ctx).First(&meta, metaRowID).Error; err != nil {
		return "", false, apperrors.NewStoreUnavailable("load conversation metadata", err)
	}
	return meta.TerminationReason, meta.Terminated, nil
}

func (s *Store) Metadata(ctx context.Context) (*transcript.ConversationMetadata, error) {
	var meta conversationMetaRow
	if err := s.db.WithContext(ctx).First(&meta, metaRowID).Error; err != nil {
		return nil, apperrors.NewStoreUnavailable("load conversation metadata", err)
	}
	perSender := map[string]int{}
	_ = json.Unmarshal([]byte(meta.PerSenderTurns), &perSender)
	return &transcript.ConversationMetadata{
		ConversationID:       meta.ConversationID,
		TotalTurns:           meta.TotalTurns,
		PerSenderTurns:       perSender,
		TotalTokens:          meta.TotalTokens,
		Terminated:           meta.Terminated,
		TerminationReason:    meta.TerminationReason,
		TerminationTimestamp: meta.TerminationTimestamp,
		CreatedAt:            meta.CreatedAt,
	}, nil
}

func (s *Store) Health(ctx context.Context) (transcript.Health, error) {
	checks := map[string]bool{"backend": false, "lock": true} // no external lock for networked backend
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB.PingContext(ctx) == nil {
		checks["backend"] = true
	}
	return transcript.Health{Healthy: checks["backend"], Checks: checks}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainMessage(row messageRow) *transcript.Message {
	var metadata map[string]interface{}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
			metadata = map[string]interface{}{}
		}
	}
	return &transcript.Message{
		ID:        row.ID,
		Sender:    row.Sender,
		Content:   row.Content,
		Timestamp: row.Timestamp,
		Metadata:  metadata,
	}
}
