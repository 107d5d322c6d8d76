package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-o2c/internal/ar"
	"github.com/odyssey-erp/odyssey-o2c/internal/audit"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/returns"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// Exit codes returned by document commands.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitRejected   = 2
	ExitTransition = 3
	ExitNotFound   = 4
)

// Services are the document services driven by DocumentsCLI.
type Services struct {
	Orders     *sales.Service
	Deliveries *delivery.Service
	Invoices   *ar.Service
	Returns    *returns.Service
	Registry   *docref.Registry
	History    *audit.Service
}

// Summary is the outcome of one document command.
type Summary struct {
	Ref       string `json:"ref"`
	DocNumber string `json:"doc_number"`
	Status    string `json:"status"`
}

type actionRequest struct {
	scope  shared.Scope
	id     int64
	reason string
}

type action func(ctx context.Context, req actionRequest) (Summary, error)

// DocumentsCLI runs lifecycle operations against stored documents.
type DocumentsCLI struct {
	actions  map[string]action
	registry *docref.Registry
	history  *audit.Service
}

// NewDocumentsCLI registers the verbs each document kind supports.
func NewDocumentsCLI(s Services) *DocumentsCLI {
	c := &DocumentsCLI{actions: make(map[string]action), registry: s.Registry, history: s.History}
	if s.Orders != nil {
		order := func(fn func(context.Context, actionRequest) (sales.Order, error)) action {
			return func(ctx context.Context, req actionRequest) (Summary, error) {
				o, err := fn(ctx, req)
				return Summary{Ref: docref.Order(o.ID).String(), DocNumber: o.DocNumber, Status: string(o.Status)}, err
			}
		}
		c.register(docref.KindOrder, "quote", order(func(ctx context.Context, r actionRequest) (sales.Order, error) {
			return s.Orders.SubmitQuote(ctx, r.scope, r.id)
		}))
		c.register(docref.KindOrder, "confirm", order(func(ctx context.Context, r actionRequest) (sales.Order, error) {
			return s.Orders.Confirm(ctx, r.scope, r.id)
		}))
		c.register(docref.KindOrder, "close", order(func(ctx context.Context, r actionRequest) (sales.Order, error) {
			return s.Orders.Close(ctx, r.scope, r.id)
		}))
		c.register(docref.KindOrder, "cancel", order(func(ctx context.Context, r actionRequest) (sales.Order, error) {
			return s.Orders.Cancel(ctx, r.scope, r.id, r.reason)
		}))
	}
	if s.Deliveries != nil {
		deliveryAction := func(fn func(context.Context, shared.Scope, int64) (delivery.Delivery, error)) action {
			return func(ctx context.Context, req actionRequest) (Summary, error) {
				d, err := fn(ctx, req.scope, req.id)
				return Summary{Ref: docref.Delivery(d.ID).String(), DocNumber: d.DocNumber, Status: string(d.Status)}, err
			}
		}
		c.register(docref.KindDelivery, "post", deliveryAction(s.Deliveries.Post))
		c.register(docref.KindDelivery, "cancel", deliveryAction(s.Deliveries.Cancel))
	}
	if s.Invoices != nil {
		invoiceAction := func(fn func(context.Context, shared.Scope, int64) (ar.Invoice, error)) action {
			return func(ctx context.Context, req actionRequest) (Summary, error) {
				inv, err := fn(ctx, req.scope, req.id)
				return Summary{Ref: docref.Invoice(inv.ID).String(), DocNumber: inv.DocNumber, Status: string(inv.Status)}, err
			}
		}
		c.register(docref.KindInvoice, "post", invoiceAction(s.Invoices.Post))
		c.register(docref.KindInvoice, "cancel", invoiceAction(s.Invoices.Cancel))
	}
	if s.Returns != nil {
		returnAction := func(fn func(context.Context, shared.Scope, int64) (returns.Return, error)) action {
			return func(ctx context.Context, req actionRequest) (Summary, error) {
				r, err := fn(ctx, req.scope, req.id)
				return Summary{Ref: docref.Return(r.ID).String(), DocNumber: r.DocNumber, Status: string(r.Status)}, err
			}
		}
		c.register(docref.KindReturn, "post", returnAction(s.Returns.Post))
		c.register(docref.KindReturn, "cancel", returnAction(s.Returns.Cancel))
	}
	return c
}

func (c *DocumentsCLI) register(kind docref.Kind, verb string, fn action) {
	c.actions[string(kind)+"/"+verb] = fn
}

// Verbs lists the supported verbs for kind.
func (c *DocumentsCLI) Verbs(kind docref.Kind) []string {
	prefix := string(kind) + "/"
	var verbs []string
	for key := range c.actions {
		if strings.HasPrefix(key, prefix) {
			verbs = append(verbs, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(verbs)
	return verbs
}

// RunOptions defines the flags of the run command.
type RunOptions struct {
	Ref         string
	Verb        string
	CompanyID   int64
	BranchID    int64
	CompanyCode string
	BranchCode  string
	UserID      int64
	Reason      string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

type runFailure struct {
	OK    bool   `json:"ok"`
	Ref   string `json:"ref"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type runSuccess struct {
	OK bool `json:"ok"`
	Summary
}

// RunCommand applies opts.Verb to the document named by opts.Ref and prints the outcome.
func (c *DocumentsCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	ref, err := docref.Parse(strings.TrimSpace(opts.Ref))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "run: invalid document %q (expected kind:id)\n", opts.Ref)
		return ExitFailure
	}
	verb := strings.ToLower(strings.TrimSpace(opts.Verb))
	fn, ok := c.actions[string(ref.Kind)+"/"+verb]
	if !ok {
		_, _ = fmt.Fprintf(opts.Stderr, "run: %s does not support %q (supported: %s)\n",
			ref.Kind, opts.Verb, strings.Join(c.Verbs(ref.Kind), ", "))
		return ExitFailure
	}
	scope := shared.Scope{
		Tenant: shared.TenantContext{
			CompanyID:   opts.CompanyID,
			BranchID:    opts.BranchID,
			CompanyCode: opts.CompanyCode,
			BranchCode:  opts.BranchCode,
		},
		Actor: shared.ActorContext{UserID: opts.UserID},
	}

	summary, err := fn(ctx, actionRequest{scope: scope, id: ref.ID, reason: opts.Reason})
	if err != nil {
		code := exitCode(err)
		if opts.JSONOutput {
			_ = json.NewEncoder(opts.Stdout).Encode(runFailure{Ref: ref.String(), Code: shared.CodeOf(err), Error: err.Error()})
		} else {
			_, _ = fmt.Fprintf(opts.Stderr, "run: %s %s: %v\n", verb, ref, err)
		}
		return code
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(runSuccess{OK: true, Summary: summary}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "run: encode json: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s %s %s\n", summary.Ref, summary.DocNumber, summary.Status)
	return ExitOK
}

// ShowOptions defines the flags of the show command.
type ShowOptions struct {
	Ref        string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type showResult struct {
	Ref       string `json:"ref"`
	DocNumber string `json:"doc_number"`
	Status    string `json:"status"`
	CompanyID int64  `json:"company_id"`
	BranchID  int64  `json:"branch_id"`
	Deleted   bool   `json:"deleted"`
}

// ShowCommand prints the header of the document named by opts.Ref.
func (c *DocumentsCLI) ShowCommand(ctx context.Context, opts ShowOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c.registry == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "show: document registry not configured")
		return ExitFailure
	}
	ref, err := docref.Parse(strings.TrimSpace(opts.Ref))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "show: invalid document %q (expected kind:id)\n", opts.Ref)
		return ExitFailure
	}
	header, err := c.registry.Resolve(ctx, ref)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "show: %v\n", err)
		return exitCode(err)
	}
	result := showResult{
		Ref:       header.Ref.String(),
		DocNumber: header.Number,
		Status:    header.Status,
		CompanyID: header.CompanyID,
		BranchID:  header.BranchID,
		Deleted:   header.DeletedAt != nil,
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "show: encode json: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s %s %s company=%d branch=%d\n",
		result.Ref, result.DocNumber, result.Status, result.CompanyID, result.BranchID)
	return ExitOK
}

// HistoryOptions defines the flags of the history command.
type HistoryOptions struct {
	Ref       string
	Page      int
	PageSize  int
	CSVOutput bool
	Stdout    io.Writer
	Stderr    io.Writer
}

// HistoryCommand prints the audit trail of the document named by opts.Ref.
// CSV output ignores paging and prints every entry.
func (c *DocumentsCLI) HistoryCommand(ctx context.Context, opts HistoryOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c.history == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "history: audit service not configured")
		return ExitFailure
	}
	ref, err := docref.Parse(strings.TrimSpace(opts.Ref))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "history: invalid document %q (expected kind:id)\n", opts.Ref)
		return ExitFailure
	}
	filters := audit.TimelineFilters{Document: ref, Page: opts.Page, PageSize: opts.PageSize}
	if opts.CSVOutput {
		rows, err := c.history.Export(ctx, filters)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "history: %v\n", err)
			return ExitFailure
		}
		if err := audit.WriteCSV(opts.Stdout, rows); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "history: write csv: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	result, err := c.history.Timeline(ctx, filters)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "history: %v\n", err)
		return ExitFailure
	}
	for _, row := range result.Rows {
		_, _ = fmt.Fprintf(opts.Stdout, "%s user=%d %s %s\n",
			row.At.UTC().Format(time.RFC3339), row.ActorID, row.Action, row.Status)
	}
	if result.Paging.HasNext {
		_, _ = fmt.Fprintf(opts.Stdout, "more entries: -page %d\n", result.Paging.NextPage)
	}
	return ExitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, shared.ErrInvalidTransition):
		return ExitTransition
	case shared.IsBusiness(err):
		return ExitRejected
	default:
		return ExitFailure
	}
}
