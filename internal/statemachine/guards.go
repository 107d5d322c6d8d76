package statemachine

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// PolicyFunc reports whether maker-checker segregation is enabled for a company.
type PolicyFunc func(ctx context.Context, companyID int64) (bool, error)

// MakerChecker rejects the transition when the policy is enabled and the
// actor is the document's creator.
func MakerChecker[S ~string](policy PolicyFunc) Guard[S] {
	return func(ctx context.Context, req Request[S]) error {
		if policy == nil {
			return nil
		}
		enabled, err := policy(ctx, req.CompanyID)
		if err != nil {
			return fmt.Errorf("statemachine: maker-checker policy: %w", err)
		}
		if !enabled || req.CreatedBy == 0 || req.CreatedBy != req.Actor {
			return nil
		}
		return shared.NewBusinessError("MAKER_CHECKER", shared.ErrMakerChecker,
			"user %d created document %d and cannot move it to %s", req.Actor, req.DocumentID, req.To)
	}
}
