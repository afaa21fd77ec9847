package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/domain"
)

// MockGatewayService is a mock implementation of in.GatewayService
type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) Handle(ctx context.Context, req in.InboundRequest) (*domain.ProxyResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProxyResponse), args.Error(1)
}

// MockProxyRegistry is a mock implementation of in.ProxyRegistry
type MockProxyRegistry struct {
	mock.Mock
}

func (m *MockProxyRegistry) Register(descriptor domain.ProxyDescriptor) {
	m.Called(descriptor)
}

func (m *MockProxyRegistry) FindByDomain(host string) (domain.ProxyDescriptor, bool) {
	args := m.Called(host)
	return args.Get(0).(domain.ProxyDescriptor), args.Bool(1)
}

func (m *MockProxyRegistry) Services() []domain.ProxyDescriptor {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.ProxyDescriptor)
}
