package objectstore

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockObjectStore is a testify mock of ObjectStore for failure-path tests
// in other packages.
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	args := m.Called(ctx, data, nameHint)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) Get(ctx context.Context, location string) ([]byte, error) {
	args := m.Called(ctx, location)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, location string) error {
	return m.Called(ctx, location).Error(0)
}

func (m *MockObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if l, ok := args.Get(0).([]string); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockObjectStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, location, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockObjectStore) Info() map[string]interface{} {
	return map[string]interface{}{"provider": "mock"}
}
