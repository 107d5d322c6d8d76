// Package statemachine gates document status changes with a per-document
// transition table and pluggable guards.
package statemachine

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// Table lists the legal targets of each state.
type Table[S ~string] map[S][]S

// Request describes one attempted transition.
type Request[S ~string] struct {
	DocumentID int64
	From       S
	To         S
	CompanyID  int64
	CreatedBy  int64
	Actor      int64
}

// Guard is evaluated after the edge is known to exist. A non-nil error
// rejects the transition.
type Guard[S ~string] func(ctx context.Context, req Request[S]) error

type edge[S ~string] struct{ from, to S }

// Machine validates transitions for one document type.
type Machine[S ~string] struct {
	document string
	table    Table[S]
	guards   map[edge[S]][]Guard[S]
}

// New builds a machine for document (used in error messages).
func New[S ~string](document string, table Table[S]) *Machine[S] {
	return &Machine[S]{document: document, table: table, guards: make(map[edge[S]][]Guard[S])}
}

// Guard attaches g to the from->to edge. It panics on an edge missing from
// the table since that is a programming error.
func (m *Machine[S]) Guard(from, to S, g Guard[S]) *Machine[S] {
	if !m.Can(from, to) {
		panic(fmt.Sprintf("statemachine: %s has no edge %s -> %s", m.document, from, to))
	}
	key := edge[S]{from: from, to: to}
	m.guards[key] = append(m.guards[key], g)
	return m
}

// GuardInto attaches g to every edge ending in to.
func (m *Machine[S]) GuardInto(to S, g Guard[S]) *Machine[S] {
	for from, targets := range m.table {
		for _, t := range targets {
			if t == to {
				m.Guard(from, to, g)
			}
		}
	}
	return m
}

// Can reports whether the table has an edge from -> to.
func (m *Machine[S]) Can(from, to S) bool {
	for _, t := range m.table[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (m *Machine[S]) Terminal(s S) bool {
	return len(m.table[s]) == 0
}

// Transition returns a *shared.StateError for a missing edge, otherwise the
// first guard error, otherwise nil.
func (m *Machine[S]) Transition(ctx context.Context, req Request[S]) error {
	if !m.Can(req.From, req.To) {
		return &shared.StateError{Document: m.document, From: string(req.From), To: string(req.To)}
	}
	for _, g := range m.guards[edge[S]{from: req.From, to: req.To}] {
		if err := g(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
