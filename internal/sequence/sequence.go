// Package sequence generates gapless per-scope document numbers of the form
// PREFIX-COMPANY-BRANCH-YY-NNNNN. The next value is computed from the highest
// number already stored for the scope, soft-deleted rows included, so it must
// run in the same transaction as the insert that uses it.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// Width is the zero padding of the running number.
const Width = 5

// ErrInvalidNumber indicates a string that is not a document number.
var ErrInvalidNumber = errors.New("sequence: invalid document number")

// Prefixes used per document kind.
var Prefixes = map[docref.Kind]string{
	docref.KindOrder:    "SO",
	docref.KindDelivery: "DO",
	docref.KindInvoice:  "SI",
	docref.KindReturn:   "SR",
}

// Scope identifies one numbering series.
type Scope struct {
	Kind        docref.Kind
	Prefix      string
	CompanyCode string
	BranchCode  string
	BranchID    int64
	Year        int // four digit; rendered as two digits
}

// NewScope builds the scope for kind within the tenant and calendar year.
func NewScope(kind docref.Kind, tenant shared.TenantContext, year int) Scope {
	return Scope{
		Kind:        kind,
		Prefix:      Prefixes[kind],
		CompanyCode: tenant.CompanyCode,
		BranchCode:  tenant.BranchCode,
		BranchID:    tenant.BranchID,
		Year:        year,
	}
}

// Validate checks the scope can render a number.
func (s Scope) Validate() error {
	if s.Prefix == "" || s.CompanyCode == "" || s.BranchCode == "" || s.BranchID == 0 || s.Year <= 0 {
		return fmt.Errorf("sequence: incomplete scope %+v", s)
	}
	if strings.Contains(s.CompanyCode+s.BranchCode, "-") {
		return fmt.Errorf("sequence: segment codes must not contain '-'")
	}
	return nil
}

// LockKey is the advisory lock key serializing the scope.
func (s Scope) LockKey() string {
	return shared.AdvisoryKey("seq", s.BranchID, s.Prefix, s.Year)
}

// YearSegment returns the two digit year.
func (s Scope) YearSegment() string {
	return fmt.Sprintf("%02d", s.Year%100)
}

// Number is a generated document number.
type Number struct {
	Value string
	Seq   int
	Scope Scope
}

// Format renders the number for seq within scope.
func Format(scope Scope, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%s-%0*d", scope.Prefix, scope.CompanyCode, scope.BranchCode, scope.YearSegment(), Width, seq)
}

// Parsed is the decomposed form of a number.
type Parsed struct {
	Prefix      string
	CompanyCode string
	BranchCode  string
	YearSegment string
	Seq         int
}

// Parse splits a number produced by Format.
func Parse(value string) (Parsed, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 5 {
		return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	seq, err := strconv.Atoi(parts[4])
	if err != nil || seq <= 0 || len(parts[3]) != 2 {
		return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	return Parsed{Prefix: parts[0], CompanyCode: parts[1], BranchCode: parts[2], YearSegment: parts[3], Seq: seq}, nil
}

// Store is the transaction-scoped access the generator needs.
type Store interface {
	// LockScope serializes generators of the same scope until the transaction ends.
	LockScope(ctx context.Context, scope Scope) error
	// MaxSequence returns the highest doc_seq stored for the scope, including
	// soft-deleted rows, or zero.
	MaxSequence(ctx context.Context, scope Scope) (int, error)
}

// Generator produces the next number in a scope.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next locks the scope and returns the number after the highest stored one.
func (g *Generator) Next(ctx context.Context, store Store, scope Scope) (Number, error) {
	if err := scope.Validate(); err != nil {
		return Number{}, err
	}
	if err := store.LockScope(ctx, scope); err != nil {
		return Number{}, err
	}
	highest, err := store.MaxSequence(ctx, scope)
	if err != nil {
		return Number{}, err
	}
	seq := highest + 1
	return Number{Value: Format(scope, seq), Seq: seq, Scope: scope}, nil
}
