package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/audit"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/testing/memstore"
)

func newDocumentsCLI(f *memstore.Fixture) *DocumentsCLI {
	registry := docref.NewRegistry()
	registry.Register(docref.KindOrder, docref.ResolverFunc(func(ctx context.Context, id int64) (docref.Header, error) {
		o, err := f.Sales.Get(ctx, memstore.Scope(memstore.Maker), id)
		if err != nil {
			return docref.Header{}, err
		}
		return docref.Header{Ref: docref.Order(o.ID), Number: o.DocNumber, Status: string(o.Status), CompanyID: o.CompanyID, BranchID: o.BranchID}, nil
	}))
	return NewDocumentsCLI(Services{
		Orders:     f.Sales,
		Deliveries: f.Deliveries,
		Invoices:   f.Invoices,
		Returns:    f.Returns,
		Registry:   registry,
	})
}

func runOpts(ref, verb string, user int64, stdout, stderr *bytes.Buffer) RunOptions {
	return RunOptions{
		Ref: ref, Verb: verb,
		CompanyID: memstore.CompanyID, BranchID: memstore.BranchID,
		CompanyCode: "ACME", BranchCode: "JKT",
		UserID: user, JSONOutput: true,
		Stdout: stdout, Stderr: stderr,
	}
}

func draftOrder(t *testing.T, f *memstore.Fixture) sales.Order {
	t.Helper()
	order, err := f.Sales.Create(context.Background(), memstore.Scope(memstore.Maker), sales.CreateOrderRequest{
		CustomerID: memstore.CustomerID,
		LocationID: memstore.LocationID,
		OrderDate:  f.Now,
		Currency:   "IDR",
		Lines:      []sales.OrderLineInput{memstore.Line(1, "4", "10")},
	})
	require.NoError(t, err)
	return order
}

func TestRunCommandConfirmsOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "2")
	order := draftOrder(t, f)
	c := newDocumentsCLI(f)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.RunCommand(context.Background(), runOpts("sales_order:"+strconv.FormatInt(order.ID, 10), "confirm", memstore.Maker, stdout, stderr))
	require.Equal(t, ExitOK, code)
	require.Empty(t, stderr.String())

	var out runSuccess
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.True(t, out.OK)
	require.Equal(t, order.DocNumber, out.DocNumber)
	require.Equal(t, string(sales.StatusConfirmed), out.Status)
}

func TestRunCommandReportsRejections(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "1", "2")
	order := draftOrder(t, f)
	c := newDocumentsCLI(f)
	ref := "sales_order:" + strconv.FormatInt(order.ID, 10)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.RunCommand(context.Background(), runOpts(ref, "confirm", memstore.Maker, stdout, stderr))
	require.Equal(t, ExitRejected, code)
	var out runFailure
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.False(t, out.OK)
	require.Equal(t, "INSUFFICIENT_AVAILABLE", out.Code)

	stdout.Reset()
	code = c.RunCommand(context.Background(), runOpts(ref, "close", memstore.Maker, stdout, stderr))
	require.Equal(t, ExitTransition, code)

	stdout.Reset()
	code = c.RunCommand(context.Background(), runOpts("sales_order:999", "confirm", memstore.Maker, stdout, stderr))
	require.Equal(t, ExitNotFound, code)
}

func TestRunCommandRejectsUnknownInput(t *testing.T) {
	c := newDocumentsCLI(memstore.NewFixture(t))

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Equal(t, ExitFailure, c.RunCommand(context.Background(), runOpts("order-1", "confirm", memstore.Maker, stdout, stderr)))
	require.Contains(t, stderr.String(), "invalid document")

	stderr.Reset()
	require.Equal(t, ExitFailure, c.RunCommand(context.Background(), runOpts("delivery:1", "confirm", memstore.Maker, stdout, stderr)))
	require.Contains(t, stderr.String(), "supported: cancel, post")
}

func TestShowCommandPrintsHeader(t *testing.T) {
	f := memstore.NewFixture(t)
	order := draftOrder(t, f)
	c := newDocumentsCLI(f)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.ShowCommand(context.Background(), ShowOptions{
		Ref: "sales_order:" + strconv.FormatInt(order.ID, 10), JSONOutput: true, Stdout: stdout, Stderr: stderr,
	})
	require.Equal(t, ExitOK, code)
	var out showResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, order.DocNumber, out.DocNumber)
	require.Equal(t, "DRAFT", out.Status)
	require.Equal(t, memstore.CompanyID, out.CompanyID)

	stderr.Reset()
	code = c.ShowCommand(context.Background(), ShowOptions{Ref: "delivery:1", Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitFailure, code)
	require.Contains(t, stderr.String(), "unknown kind")
}

type historyRepo struct {
	rows []audit.Row
	last audit.WindowParams
}

func (r *historyRepo) Window(_ context.Context, p audit.WindowParams) ([]audit.Row, error) {
	r.last = p
	return r.rows, nil
}

func TestHistoryCommandPrintsEntries(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	repo := &historyRepo{rows: []audit.Row{
		{At: at, ActorID: 8, Action: "sales_order.confirm", Entity: "sales_order", EntityID: "3", Meta: []byte(`{"doc_number":"SO-ACME-JKT-26-00003","status":"CONFIRMED"}`)},
		{At: at.Add(-time.Hour), ActorID: 7, Action: "sales_order.create", Entity: "sales_order", EntityID: "3", Meta: []byte(`{"status":"DRAFT"}`)},
	}}
	c := NewDocumentsCLI(Services{History: audit.NewService(repo)})

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.HistoryCommand(context.Background(), HistoryOptions{Ref: "sales_order:3", Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, code)
	require.Equal(t, "3", repo.last.EntityID.String)
	require.Equal(t, "2026-03-10T10:00:00Z user=8 sales_order.confirm CONFIRMED\n2026-03-10T09:00:00Z user=7 sales_order.create DRAFT\n", stdout.String())

	stdout.Reset()
	code = c.HistoryCommand(context.Background(), HistoryOptions{Ref: "sales_order:3", CSVOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, code)
	require.False(t, repo.last.Limit.Valid)
	require.Contains(t, stdout.String(), "sales_order:3,SO-ACME-JKT-26-00003,CONFIRMED")

	require.Equal(t, ExitFailure, c.HistoryCommand(context.Background(), HistoryOptions{Ref: "nope", Stdout: stdout, Stderr: stderr}))
}
