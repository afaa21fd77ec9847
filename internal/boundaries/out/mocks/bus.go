package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prtl/prtl/internal/boundaries/out"
)

// MockBus is a mock implementation of out.Bus
type MockBus struct {
	mock.Mock
}

func (m *MockBus) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func (m *MockBus) Subscribe(subject string, handler out.MessageHandler) (out.Subscription, error) {
	args := m.Called(subject, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(out.Subscription), args.Error(1)
}

func (m *MockBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	args := m.Called(ctx, subject, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBus) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBus) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSubscription is a mock implementation of out.Subscription
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Unsubscribe() error {
	args := m.Called()
	return args.Error(0)
}
