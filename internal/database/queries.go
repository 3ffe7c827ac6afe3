package database

import (
	"time"

	"github.com/google/uuid"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
	)

	return a, err
}

func (db *PgRepository) GetAccountById(id int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
	)

	return a, err
}

func (db *PgRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
	)

	return a, err
}

func (db *PgRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	res := db.conn.QueryRow(
		"INSERT INTO notifications (id, account_id, type, title, message, entity_type, entity_id, read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8) "+
			"RETURNING id, account_id, type, title, message, entity_type, entity_id, read, created_at",
		uuid.NewString(),
		params.AccountId,
		params.Type,
		params.Title,
		params.Message,
		params.EntityType,
		params.EntityId,
		time.Now().UTC(),
	)

	var n Notification
	err := res.Scan(
		&n.Id,
		&n.AccountId,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.EntityType,
		&n.EntityId,
		&n.Read,
		&n.CreatedAt,
	)

	return n, err
}

func (db *PgRepository) ListNotifications(accountId int) ([]Notification, error) {
	rows, err := db.conn.Query(
		"SELECT id, account_id, type, title, message, entity_type, entity_id, read, created_at "+
			"FROM notifications WHERE account_id = $1 ORDER BY created_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.Id,
			&n.AccountId,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.EntityType,
			&n.EntityId,
			&n.Read,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// CountUnread derives the unread count by counting rows. There is no
// maintained counter to drift out of sync with the table.
func (db *PgRepository) CountUnread(accountId int) (int, error) {
	row := db.conn.QueryRow(
		"SELECT count(*) FROM notifications WHERE account_id = $1 AND read = FALSE",
		accountId,
	)

	var count int
	err := row.Scan(&count)

	return count, err
}

// MarkNotificationRead is idempotent: marking an already-read
// notification read again matches zero unread rows and succeeds.
func (db *PgRepository) MarkNotificationRead(accountId int, notificationId string) error {
	_, err := db.conn.Exec(
		"UPDATE notifications SET read = TRUE WHERE id = $1 AND account_id = $2",
		notificationId,
		accountId,
	)

	return err
}

func (db *PgRepository) MarkAllNotificationsRead(accountId int) error {
	_, err := db.conn.Exec(
		"UPDATE notifications SET read = TRUE WHERE account_id = $1 AND read = FALSE",
		accountId,
	)

	return err
}
