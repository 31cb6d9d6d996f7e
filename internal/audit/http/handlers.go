package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pondok-erp/pondok-erp/internal/audit"
	"github.com/pondok-erp/pondok-erp/internal/platform/httpx"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
	dateLayout       = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

// ServeHTTP menulis satu halaman timeline sebagai JSON.
//
// Query: from, to (YYYY-MM-DD, inclusive), actor, entity, audit_action,
// page, page_size.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		httpx.Error(w, http.StatusNotImplemented, "Audit unavailable")
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		var v validationError
		if errors.As(err, &v) {
			httpx.Error(w, http.StatusBadRequest, "Invalid filter: "+v.field)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// timelineQuery is the raw query string before conversion.
type timelineQuery struct {
	From     string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To       string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Actor    string `query:"actor" validate:"max=100"`
	Entity   string `query:"entity" validate:"max=64"`
	Action   string `query:"audit_action" validate:"omitempty,oneof=CREATE UPDATE DELETE UPDATE_CONFIG"`
	Page     string `query:"page" validate:"omitempty,number"`
	PageSize string `query:"page_size" validate:"omitempty,number"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	return v
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	raw := timelineQuery{
		From:     strings.TrimSpace(q.Get("from")),
		To:       strings.TrimSpace(q.Get("to")),
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.ToUpper(strings.TrimSpace(q.Get("audit_action"))),
		Page:     strings.TrimSpace(q.Get("page")),
		PageSize: strings.TrimSpace(q.Get("page_size")),
	}
	if err := validate.Struct(raw); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return audit.TimelineFilters{}, validationError{field: fieldErrs[0].Field()}
		}
		return audit.TimelineFilters{}, err
	}

	// Tanggal sudah divalidasi, jadi Parse di bawah tidak gagal.
	to := h.now().UTC().Truncate(24 * time.Hour)
	if raw.To != "" {
		to, _ = time.Parse(dateLayout, raw.To)
	}
	from := to.Add(-defaultDateRange)
	if raw.From != "" {
		from, _ = time.Parse(dateLayout, raw.From)
	}
	if from.After(to) || to.Sub(from) > maxDateRange {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}

	page, ok := positive(raw.Page, 1)
	if !ok || page > audit.MaxPage {
		return audit.TimelineFilters{}, validationError{field: "page"}
	}
	pageSize, ok := positive(raw.PageSize, defaultPageSize)
	if !ok {
		return audit.TimelineFilters{}, validationError{field: "page_size"}
	}

	return audit.TimelineFilters{
		From:     from,
		To:       to.Add(24 * time.Hour),
		Actor:    raw.Actor,
		Entity:   raw.Entity,
		Action:   strings.ToLower(raw.Action),
		Page:     page,
		PageSize: min(pageSize, maxPageSize),
	}, nil
}

// positive parses v, returning fallback when v is empty.
func positive(v string, fallback int) (int, bool) {
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
