// Package notification persists per-user notifications and pushes new
// ones to the user's live connections. Delivery is best-effort push
// plus reliable pull: a user with no live connection still sees the
// notification through the list and unread-count queries.
package notification

import (
	"fmt"
	"log"

	"github.com/bizdocs/collabhub/internal/database"
	"github.com/bizdocs/collabhub/internal/hub"
	"github.com/bizdocs/collabhub/internal/types"
)

// Pusher is the slice of the hub the service needs: fan-out over the
// per-user connection set.
type Pusher interface {
	PushToUser(userId int, ev *hub.ServerEvent) int
}

type Service struct {
	log    *log.Logger
	db     database.Repository
	pusher Pusher
}

func NewService(logger *log.Logger, db database.Repository, pusher Pusher) *Service {
	return &Service{
		log:    logger,
		db:     db,
		pusher: pusher,
	}
}

// Create durably stores a notification, then pushes it. Called by
// external writers (REST handlers reacting to business-document
// writes); the service never decides that a notification should
// exist, only stores and fans out.
func (s *Service) Create(params database.CreateNotificationParams) (types.Notification, error) {
	row, err := s.db.CreateNotification(params)
	if err != nil {
		return types.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	n := fromRow(row)
	s.Push(n.UserId, n)

	return n, nil
}

// Push sends notification:new to every live connection of the user.
// No live connections is a silent no-op; the notification remains
// retrievable through List and UnreadCount.
func (s *Service) Push(userId int, n types.Notification) {
	delivered := s.pusher.PushToUser(userId, hub.NewNotificationEvent(n))
	if delivered > 0 {
		s.log.Printf("pushed notification %s to %d connection(s) of user %d", n.Id, delivered, userId)
	}
}

func (s *Service) List(userId int) ([]types.Notification, error) {
	rows, err := s.db.ListNotifications(userId)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	notifications := make([]types.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, fromRow(row))
	}

	return notifications, nil
}

// UnreadCount is always derived by counting unread rows, never read
// from a separately maintained counter.
func (s *Service) UnreadCount(userId int) (int, error) {
	count, err := s.db.CountUnread(userId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}

	return count, nil
}

func (s *Service) MarkRead(userId int, notificationId string) error {
	if err := s.db.MarkNotificationRead(userId, notificationId); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	return nil
}

func (s *Service) MarkAllRead(userId int) error {
	if err := s.db.MarkAllNotificationsRead(userId); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}

	return nil
}

func fromRow(row database.Notification) types.Notification {
	return types.Notification{
		Id:         row.Id,
		UserId:     row.AccountId,
		Type:       row.Type,
		Title:      row.Title,
		Message:    row.Message,
		EntityType: row.EntityType,
		EntityId:   row.EntityId,
		Read:       row.Read,
		CreatedAt:  row.CreatedAt,
	}
}
