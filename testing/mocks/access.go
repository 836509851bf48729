package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
)

// MockAccessControl allows everything unless a Func is set
type MockAccessControl struct {
	VerifyServerOwnershipFunc     func(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
	VerifyClusterOwnershipFunc    func(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
	VerifyDeploymentOwnershipFunc func(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
}

func (m *MockAccessControl) VerifyServerOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	if m.VerifyServerOwnershipFunc != nil {
		return m.VerifyServerOwnershipFunc(ctx, id, caller)
	}
	return nil
}

func (m *MockAccessControl) VerifyClusterOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	if m.VerifyClusterOwnershipFunc != nil {
		return m.VerifyClusterOwnershipFunc(ctx, id, caller)
	}
	return nil
}

func (m *MockAccessControl) VerifyDeploymentOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	if m.VerifyDeploymentOwnershipFunc != nil {
		return m.VerifyDeploymentOwnershipFunc(ctx, id, caller)
	}
	return nil
}
