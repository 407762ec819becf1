package reputation

import (
	"context"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opReconcile   = "reputation.reconcile"
	messagesTable = "messages"
)

// ReconcileReport summarises the rows corrected by Reconcile.
type ReconcileReport struct {
	MessagesCorrected int `json:"messages_corrected"`
	UsersCorrected    int `json:"users_corrected"`
}

type counted struct {
	GroupKey string
	Total    int64
}

// Reconcile recomputes the denormalised reply_count of every message and total_messages of every user from
// the raw message rows. Reputation and helpful_votes depend on vote history and are left untouched.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		corrected, err := e.reconcileReplyCounts(tx)
		if err != nil {
			return err
		}
		report.MessagesCorrected = corrected

		corrected, err = e.reconcileMessageTotals(tx)
		if err != nil {
			return err
		}
		report.UsersCorrected = corrected
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	e.logger.Info("counters reconciled",
		zap.Int("messages_corrected", report.MessagesCorrected),
		zap.Int("users_corrected", report.UsersCorrected),
	)
	return report, nil
}

func (e *Engine) reconcileReplyCounts(tx *gorm.DB) (int, error) {
	var actual []counted
	err := tx.Table(messagesTable).
		Select("parent_id AS group_key, COUNT(*) AS total").
		Where("parent_id IS NOT NULL").
		Group("parent_id").
		Scan(&actual).Error
	if err != nil {
		return 0, e.fail(opReconcile, "reply_count_query_failed", err)
	}
	expected := make(map[string]int64, len(actual))
	for _, row := range actual {
		expected[row.GroupKey] = row.Total
	}

	var stored []struct {
		ID         string
		ReplyCount int64
	}
	if err := tx.Table(messagesTable).Select("id, reply_count").Where("parent_id IS NULL").Scan(&stored).Error; err != nil {
		return 0, e.fail(opReconcile, "message_scan_failed", err)
	}

	corrected := 0
	for _, message := range stored {
		want := expected[message.ID]
		if message.ReplyCount == want {
			continue
		}
		if err := tx.Table(messagesTable).Where("id = ?", message.ID).Update("reply_count", want).Error; err != nil {
			return 0, e.fail(opReconcile, "reply_count_update_failed", err, zap.String("message_id", message.ID))
		}
		corrected++
	}
	return corrected, nil
}

func (e *Engine) reconcileMessageTotals(tx *gorm.DB) (int, error) {
	var actual []counted
	err := tx.Table(messagesTable).
		Select("user_id AS group_key, COUNT(*) AS total").
		Group("user_id").
		Scan(&actual).Error
	if err != nil {
		return 0, e.fail(opReconcile, "message_total_query_failed", err)
	}
	expected := make(map[string]int64, len(actual))
	for _, row := range actual {
		expected[row.GroupKey] = row.Total
	}

	var stored []users.User
	if err := tx.Select("id", "total_messages").Find(&stored).Error; err != nil {
		return 0, e.fail(opReconcile, "user_scan_failed", err)
	}

	corrected := 0
	for _, user := range stored {
		want := expected[user.ID]
		if user.TotalMessages == want {
			continue
		}
		if err := tx.Model(&users.User{}).Where("id = ?", user.ID).Update("total_messages", want).Error; err != nil {
			return 0, e.fail(opReconcile, "message_total_update_failed", err, zap.String("user_id", user.ID))
		}
		corrected++
	}
	return corrected, nil
}
