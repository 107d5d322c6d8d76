package audit

import (
	"time"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
)

// TimelineFilters narrows the document history. Zero values mean "any".
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Document docref.Ref
	// Kind filters by document kind when Document is zero.
	Kind     docref.Kind
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one audit_logs entry for a document.
type TimelineRow struct {
	At        time.Time
	ActorID   int64
	Action    string
	Ref       docref.Ref
	DocNumber string
	Status    string
	Meta      map[string]any
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}
