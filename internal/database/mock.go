package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) ListNotifications(accountId int) ([]Notification, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockRepository) CountUnread(accountId int) (int, error) {
	args := m.Called(accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) MarkNotificationRead(accountId int, notificationId string) error {
	args := m.Called(accountId, notificationId)
	return args.Error(0)
}
func (m *MockRepository) MarkAllNotificationsRead(accountId int) error {
	args := m.Called(accountId)
	return args.Error(0)
}
