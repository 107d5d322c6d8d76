package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
)

type stubTimelineRepo struct {
	rows     []Row
	lastCall WindowParams
}

func (s *stubTimelineRepo) Window(_ context.Context, p WindowParams) ([]Row, error) {
	s.lastCall = p
	if p.Limit.Valid && int(p.Limit.Int32) < len(s.rows) {
		return s.rows[:p.Limit.Int32], nil
	}
	return s.rows, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Row{
		mockRow("2026-03-10T10:00:00Z", 8, "sales_order.confirm", "sales_order", "1", `{"doc_number":"SO-ACME-JKT-26-00001","status":"CONFIRMED"}`),
		mockRow("2026-03-09T09:00:00Z", 7, "sales_order.quote", "sales_order", "1", `{"doc_number":"SO-ACME-JKT-26-00001","status":"QUOTE"}`),
		mockRow("2026-03-08T08:00:00Z", 7, "sales_order.create", "sales_order", "1", `{"doc_number":"SO-ACME-JKT-26-00001","status":"DRAFT","lines":2}`),
	}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		Document: docref.Order(1),
		From:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)

	require.Equal(t, pgtype.Int4{Int32: 3, Valid: true}, repo.lastCall.Limit)
	require.Zero(t, repo.lastCall.Offset)
	require.Equal(t, pgtype.Text{String: "sales_order", Valid: true}, repo.lastCall.Entity)
	require.Equal(t, pgtype.Text{String: "1", Valid: true}, repo.lastCall.EntityID)
	require.True(t, repo.lastCall.FromAt.Valid)
	require.False(t, repo.lastCall.ToAt.Valid)

	first := result.Rows[0]
	require.Equal(t, docref.Order(1), first.Ref)
	require.Equal(t, "SO-ACME-JKT-26-00001", first.DocNumber)
	require.Equal(t, "CONFIRMED", first.Status)
	require.Equal(t, int64(8), first.ActorID)
}

func TestServiceTimelineClampsPage(t *testing.T) {
	repo := &stubTimelineRepo{}
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{Kind: docref.KindDelivery, Page: 3, PageSize: 500, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, int32(100), repo.lastCall.Offset)
	require.Equal(t, int32(51), repo.lastCall.Limit.Int32)
	require.Equal(t, pgtype.Text{String: "delivery", Valid: true}, repo.lastCall.Entity)
	require.False(t, repo.lastCall.EntityID.Valid)
	require.Equal(t, pgtype.Int8{Int64: 9, Valid: true}, repo.lastCall.ActorID)
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Row{
		mockRow("2026-03-10T10:00:00Z", 7, "delivery.post", "delivery", "4", `{"doc_number":"DO-ACME-JKT-26-00004","status":"POSTED"}`),
		mockRow("2026-03-09T09:00:00Z", 7, "delivery.create", "delivery", "4", `{}`),
	}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Action: "  "})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.False(t, repo.lastCall.Limit.Valid)
	require.False(t, repo.lastCall.Action.Valid)
	require.Empty(t, rows[1].DocNumber)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "At,Actor,Action,Document,Number,Status", lines[0])
	require.Equal(t, "2026-03-10T10:00:00Z,7,delivery.post,delivery:4,DO-ACME-JKT-26-00004,POSTED", lines[1])
}

func TestServiceRejectsMalformedEntityID(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Row{mockRow("2026-03-10T10:00:00Z", 7, "x", "sales_order", "abc", `{}`)}}
	_, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.ErrorContains(t, err, "entity id")
}

func mockRow(ts string, actor int64, action, entity, entityID, meta string) Row {
	at, _ := time.Parse(time.RFC3339, ts)
	return Row{At: at, ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: []byte(meta)}
}
