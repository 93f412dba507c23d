package observation

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/target-signal/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	args := m.Called(ctx, obs)
	return args.Error(0)
}

func (m *mockStore) AppendObservations(ctx context.Context, obs []*model.Observation) (int64, error) {
	args := m.Called(ctx, obs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Observation), args.Error(1)
}

func (m *mockStore) ReplaceSourceProfiles(ctx context.Context, field string, profiles []model.SourceProfile) error {
	args := m.Called(ctx, field, profiles)
	return args.Error(0)
}

func (m *mockStore) ListSourceProfiles(ctx context.Context, field string) ([]model.SourceProfile, error) {
	args := m.Called(ctx, field)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SourceProfile), args.Error(1)
}

type staticTypes map[string]string

func (s staticTypes) TypeOf(source string) string {
	if t, ok := s[source]; ok {
		return t
	}
	return "estimation"
}
