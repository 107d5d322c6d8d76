package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Repository provides the audit_logs reads the service needs.
type Repository interface {
	Window(ctx context.Context, p WindowParams) ([]Row, error)
}

// Service coordinates document history reads.
type Service struct {
	repo Repository
}

// NewService builds the document history service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of history, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := windowParams(filters)
	params.Offset = int32((page - 1) * pageSize)
	params.Limit = pgtype.Int4{Int32: int32(pageSize + 1), Valid: true}
	rows, err := s.repo.Window(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	resultRows, err := mapRows(rows)
	if err != nil {
		return Result{}, err
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: resultRows, Paging: paging}, nil
}

// Export returns the full history without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	rows, err := s.repo.Window(ctx, windowParams(filters))
	if err != nil {
		return nil, err
	}
	return mapRows(rows)
}

// WriteCSV renders rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"At", "Actor", "Action", "Document", "Number", "Status"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Ref.String(),
			row.DocNumber,
			row.Status,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func windowParams(filters TimelineFilters) WindowParams {
	params := WindowParams{
		FromAt: toPgTime(filters.From),
		ToAt:   toPgTime(filters.To),
		Action: optionalText(filters.Action),
	}
	if filters.ActorID != 0 {
		params.ActorID = pgtype.Int8{Int64: filters.ActorID, Valid: true}
	}
	switch {
	case !filters.Document.IsZero():
		params.Entity = optionalText(string(filters.Document.Kind))
		params.EntityID = optionalText(strconv.FormatInt(filters.Document.ID, 10))
	case filters.Kind != "":
		params.Entity = optionalText(string(filters.Kind))
	}
	return params
}

func mapRows(rows []Row) ([]TimelineRow, error) {
	out := make([]TimelineRow, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
