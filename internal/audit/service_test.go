package audit

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type stubTimelineRepo struct {
	rows     []Entry
	lastCall WindowParams
}

func (s *stubTimelineRepo) Window(ctx context.Context, arg WindowParams) ([]Entry, error) {
	s.lastCall = arg
	return s.rows, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []Entry{
			mockEntry("2024-03-10T10:00:00Z", "admin", ActionUpdate, "santri", "1"),
			mockEntry("2024-03-09T09:00:00Z", "admin", ActionUpdate, "kamar", "2"),
			mockEntry("2024-03-08T08:00:00Z", "admin", ActionCreate, "kamar", "3"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastCall.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastCall.Offset)
	}
}

func TestServiceTimelineClampsHugePage(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: math.MaxInt, PageSize: maxPageSize})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Offset < 0 {
		t.Fatalf("offset overflowed: %d", repo.lastCall.Offset)
	}
	if want := int32((MaxPage - 1) * maxPageSize); repo.lastCall.Offset != want {
		t.Fatalf("expected offset %d, got %d", want, repo.lastCall.Offset)
	}
	if result.Paging.Page != MaxPage {
		t.Fatalf("expected page %d, got %d", MaxPage, result.Paging.Page)
	}
}

func TestServiceTimelineFilters(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Actor: "  ", Entity: "kamar", Action: "delete", Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Actor != (pgtype.Text{}) {
		t.Fatalf("expected actor filter empty")
	}
	if repo.lastCall.Action.String != "DELETE" {
		t.Fatalf("expected action normalised to DELETE, got %q", repo.lastCall.Action.String)
	}
	if repo.lastCall.Limit != maxPageSize+1 || repo.lastCall.Offset != 2*maxPageSize {
		t.Fatalf("unexpected window %d/%d", repo.lastCall.Offset, repo.lastCall.Limit)
	}
	if result.Rows == nil || result.Paging.PrevPage != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func mockEntry(ts, actor string, action Action, entity, id string) Entry {
	tval, _ := time.Parse(time.RFC3339, ts)
	return Entry{Timestamp: tval, ActorUsername: actor, ActorRole: "admin", Action: action, TargetType: entity, TargetID: id}
}
