// Package docref replaces polymorphic type/id column pairs with an explicit
// tagged reference to one of the order-to-cash documents.
package docref

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind tags the document table a Ref points at.
type Kind string

const (
	KindOrder    Kind = "sales_order"
	KindDelivery Kind = "delivery"
	KindInvoice  Kind = "sales_invoice"
	KindReturn   Kind = "sales_return"
)

var (
	// ErrUnknownKind indicates a kind without a registered resolver or an unparsable tag.
	ErrUnknownKind = errors.New("docref: unknown kind")
	// ErrInvalidRef indicates a malformed reference.
	ErrInvalidRef = errors.New("docref: invalid reference")
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOrder, KindDelivery, KindInvoice, KindReturn:
		return true
	}
	return false
}

// Ref points at exactly one document.
type Ref struct {
	Kind Kind
	ID   int64
}

func Order(id int64) Ref    { return Ref{Kind: KindOrder, ID: id} }
func Delivery(id int64) Ref { return Ref{Kind: KindDelivery, ID: id} }
func Invoice(id int64) Ref  { return Ref{Kind: KindInvoice, ID: id} }
func Return(id int64) Ref   { return Ref{Kind: KindReturn, ID: id} }

// IsZero reports an unset reference.
func (r Ref) IsZero() bool { return r.Kind == "" && r.ID == 0 }

// Validate checks the kind tag and id.
func (r Ref) Validate() error {
	if !r.Kind.Valid() || r.ID <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidRef, r.String())
	}
	return nil
}

func (r Ref) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

// Parse reads the String form.
func Parse(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	ref := Ref{Kind: Kind(kind), ID: n}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Header is the minimal view of any referenced document.
type Header struct {
	Ref       Ref
	Number    string
	Status    string
	CompanyID int64
	BranchID  int64
	DeletedAt *time.Time
}

// Resolver loads headers for one kind.
type Resolver interface {
	ResolveHeader(ctx context.Context, id int64) (Header, error)
}

// ResolverFunc adapts a function into a Resolver.
type ResolverFunc func(ctx context.Context, id int64) (Header, error)

func (f ResolverFunc) ResolveHeader(ctx context.Context, id int64) (Header, error) { return f(ctx, id) }

// Registry dispatches a Ref to the resolver of its kind.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[Kind]Resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[Kind]Resolver)}
}

// Register binds a resolver to kind, replacing any previous one.
func (r *Registry) Register(kind Kind, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = resolver
}

// Resolve returns the header the reference points at.
func (r *Registry) Resolve(ctx context.Context, ref Ref) (Header, error) {
	if err := ref.Validate(); err != nil {
		return Header{}, err
	}
	r.mu.RLock()
	resolver, ok := r.resolvers[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return Header{}, fmt.Errorf("%w: %s", ErrUnknownKind, ref.Kind)
	}
	header, err := resolver.ResolveHeader(ctx, ref.ID)
	if err != nil {
		return Header{}, fmt.Errorf("docref: resolve %s: %w", ref, err)
	}
	header.Ref = ref
	return header, nil
}
