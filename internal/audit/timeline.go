package audit

import "time"

// Action enumerates mutating operations written to the audit trail.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionUpdateConfig Action = "UPDATE_CONFIG"
)

// Entry mewakili satu baris audit trail. Entries are append-only.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        Action    `json:"action"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id"`
	Details       string    `json:"details"`
	SourceAddress string    `json:"source_address"`
}

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
