// Package mocks holds testify mocks for the shipments package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	args := m.Called(ctx, shipmentID, limit, offset)
	ev, _ := args.Get(0).([]*models.ShipmentEvent)
	return ev, args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}
