package database

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountById(accountId int) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	CreateNotification(params CreateNotificationParams) (Notification, error)
	ListNotifications(accountId int) ([]Notification, error)
	CountUnread(accountId int) (int, error)
	MarkNotificationRead(accountId int, notificationId string) error
	MarkAllNotificationsRead(accountId int) error
}
