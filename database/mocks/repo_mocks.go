/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/prizepay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Payout methods

func (m *MockDataSource) CreatePayout(ctx context.Context, p *model.PayoutRequest) (*model.PayoutRequest, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) ListPayoutsByStatus(ctx context.Context, status model.PayoutStatus, limit int) ([]*model.PayoutRequest, error) {
	args := m.Called(ctx, status, limit)
	return args.Get(0).([]*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.PayoutRequest, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) SumInFlight(ctx context.Context) (model.InFlight, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.InFlight), args.Error(1)
}

// Claim methods

func (m *MockDataSource) ClaimNextBatch(ctx context.Context, limit int) ([]*model.PayoutRequest, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) ClaimPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutRequest), args.Error(1)
}

func (m *MockDataSource) RecordSubmission(ctx context.Context, id string, txReference string) error {
	args := m.Called(ctx, id, txReference)
	return args.Error(0)
}

func (m *MockDataSource) MarkCompleted(ctx context.Context, id string, txReference string) error {
	args := m.Called(ctx, id, txReference)
	return args.Error(0)
}

func (m *MockDataSource) MarkFailed(ctx context.Context, id string, reason model.FailureReason, detail string) error {
	args := m.Called(ctx, id, reason, detail)
	return args.Error(0)
}

func (m *MockDataSource) MarkUnconfirmed(ctx context.Context, id string, txReference string, detail string) error {
	args := m.Called(ctx, id, txReference, detail)
	return args.Error(0)
}

func (m *MockDataSource) ResolveUnconfirmed(ctx context.Context, id string, status model.PayoutStatus, reason model.FailureReason, detail string) error {
	args := m.Called(ctx, id, status, reason, detail)
	return args.Error(0)
}
