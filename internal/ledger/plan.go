package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

// Plan collects every check of one posting so the whole document is
// validated before the first row is mutated.
type Plan struct {
	core   Core
	order  []LineRef
	checks map[LineRef]*check
}

type check struct {
	proposed  decimal.Decimal
	remaining decimal.Decimal
	lines     int
}

// NewPlan starts an empty plan.
func (c Core) NewPlan() *Plan {
	return &Plan{core: c, checks: make(map[LineRef]*check)}
}

// Draw registers proposed against a predecessor line. Several document lines
// drawing from the same predecessor are summed; the remaining quantity of the
// first registration wins since it was read under the same lock.
func (p *Plan) Draw(line LineRef, proposed, remaining decimal.Decimal) {
	c, ok := p.checks[line]
	if !ok {
		c = &check{remaining: remaining}
		p.checks[line] = c
		p.order = append(p.order, line)
	}
	c.proposed = c.proposed.Add(numeric.Quantity(proposed))
	c.lines++
}

// Validate reconciles every registered line in ascending (kind, id) order and
// returns the first rejection.
func (p *Plan) Validate() error {
	refs := make([]LineRef, len(p.order))
	copy(refs, p.order)
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
	for _, ref := range refs {
		c := p.checks[ref]
		if _, err := p.core.Reconcile(ref, c.proposed, c.remaining); err != nil {
			return err
		}
	}
	return nil
}

// Proposed returns the aggregated proposal for a line.
func (p *Plan) Proposed(line LineRef) decimal.Decimal {
	if c, ok := p.checks[line]; ok {
		return c.proposed
	}
	return decimal.Zero
}

// Len returns the number of distinct predecessor lines in the plan.
func (p *Plan) Len() int { return len(p.order) }
