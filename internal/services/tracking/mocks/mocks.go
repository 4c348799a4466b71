// Package mocks holds testify mocks for the tracking package interfaces.
package mocks

import (
	"context"

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

func (m *MockRepository) ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error {
	args := m.Called(ctx, upd)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}
