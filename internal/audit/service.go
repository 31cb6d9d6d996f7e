package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// MaxPage keeps the row offset well inside int32.
	MaxPage = 10000
)

// WindowParams is the parameter set of the timeline query.
type WindowParams struct {
	From   pgtype.Timestamptz
	To     pgtype.Timestamptz
	Actor  pgtype.Text
	Entity pgtype.Text
	Action pgtype.Text
	Offset int32
	Limit  int32
}

// Repository menyediakan akses baca ke audit trail.
type Repository interface {
	Window(ctx context.Context, arg WindowParams) ([]Entry, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging, terbaru lebih dulu.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	page, size := clampPage(filters.Page, filters.PageSize)
	// satu baris ekstra untuk mendeteksi halaman berikutnya
	rows, err := s.repo.Window(ctx, WindowParams{
		From:   timestamp(filters.From),
		To:     timestamp(filters.To),
		Actor:  nullableText(filters.Actor),
		Entity: nullableText(filters.Entity),
		Action: nullableText(strings.ToUpper(filters.Action)),
		Offset: int32((page - 1) * size),
		Limit:  int32(size + 1),
	})
	if err != nil {
		return Result{}, err
	}
	more := len(rows) > size
	if more {
		rows = rows[:size]
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Rows: rows, Paging: pagingFor(page, size, more)}, nil
}

func clampPage(page, size int) (int, int) {
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return min(max(page, 1), MaxPage), size
}

func pagingFor(page, size int, more bool) PagingInfo {
	info := PagingInfo{Page: page, PageSize: size, HasNext: more}
	if page > 1 {
		info.PrevPage = page - 1
	}
	if more {
		info.NextPage = page + 1
	}
	return info
}

func timestamp(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func nullableText(value string) pgtype.Text {
	value = strings.TrimSpace(value)
	return pgtype.Text{String: value, Valid: value != ""}
}
