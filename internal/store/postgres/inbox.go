package postgres

import (
	"context"
	"time"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO notifications (id, user_id, type, title, body, reference, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, nullable(n.Reference), n.CreatedAt)
	return mapErr(err)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+notificationCols+` FROM notifications
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`, userID, limitOrAll(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanNotification)
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE notifications SET read_at = $3
        WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, id, userID, at)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	if !exists {
		return false, domain.ErrNotFound.With("notification_id", id)
	}
	return false, nil
}
