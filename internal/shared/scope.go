package shared

import "fmt"

// TenantContext identifies the company/branch every query is restricted to.
type TenantContext struct {
	CompanyID   int64
	BranchID    int64
	CompanyCode string
	BranchCode  string
}

// ActorContext identifies the user performing the operation.
type ActorContext struct {
	UserID int64
}

// Scope is passed explicitly into every service call.
type Scope struct {
	Tenant TenantContext
	Actor  ActorContext
}

// Owns reports whether a record with the given company/branch belongs to the scope.
// A zero branch on the record means company-wide.
func (s Scope) Owns(companyID, branchID int64) bool {
	if companyID != s.Tenant.CompanyID {
		return false
	}
	return branchID == 0 || branchID == s.Tenant.BranchID
}

// Require returns ErrTenantMismatch when the record is outside the scope.
func (s Scope) Require(what string, companyID, branchID int64) error {
	if s.Owns(companyID, branchID) {
		return nil
	}
	return fmt.Errorf("%w: %s belongs to company %d branch %d", ErrTenantMismatch, what, companyID, branchID)
}

// Validate checks the scope carries the identifiers services rely on.
func (s Scope) Validate() error {
	if s.Tenant.CompanyID <= 0 || s.Tenant.BranchID <= 0 {
		return NewBusinessError("SCOPE", nil, "company and branch are required")
	}
	if s.Actor.UserID <= 0 {
		return NewBusinessError("SCOPE", nil, "actor is required")
	}
	return nil
}
