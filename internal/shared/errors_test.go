package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSpecific = errors.New("specific")

func TestErrorTaxonomyIsDistinct(t *testing.T) {
	business := fmt.Errorf("post: %w", NewBusinessError("EXCEEDS", errSpecific, "line %d", 3))
	require.ErrorIs(t, business, ErrBusinessRule)
	require.ErrorIs(t, business, errSpecific)
	require.NotErrorIs(t, business, ErrRetryable)
	require.Equal(t, "EXCEEDS", CodeOf(business))

	state := &StateError{Document: "sales_order", From: "CLOSED", To: "CONFIRMED"}
	require.ErrorIs(t, state, ErrInvalidTransition)
	require.NotErrorIs(t, state, ErrBusinessRule)
	require.True(t, IsBusiness(state))

	retry := &RetryableError{Op: "commit", Err: errSpecific}
	require.ErrorIs(t, retry, ErrRetryable)
	require.False(t, IsBusiness(retry))
	require.Equal(t, "RETRYABLE", CodeOf(retry))
}

func TestScopeRequire(t *testing.T) {
	scope := Scope{Tenant: TenantContext{CompanyID: 1, BranchID: 2}, Actor: ActorContext{UserID: 9}}
	require.NoError(t, scope.Validate())
	require.NoError(t, scope.Require("order", 1, 2))
	require.NoError(t, scope.Require("customer", 1, 0))
	require.ErrorIs(t, scope.Require("order", 1, 3), ErrTenantMismatch)
	require.ErrorIs(t, scope.Require("order", 7, 2), ErrTenantMismatch)
	require.ErrorIs(t, Scope{}.Validate(), ErrBusinessRule)
}
