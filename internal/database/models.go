package database

import "time"

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Notification struct {
	Id         string
	AccountId  int
	Type       string
	Title      string
	Message    string
	EntityType string
	EntityId   string
	Read       bool
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateNotificationParams struct {
	AccountId  int
	Type       string
	Title      string
	Message    string
	EntityType string
	EntityId   string
}
