// Package rbac resolves what a user may do on a page: edit and delete
// rights derived from explicit per-page grants, or from the role when the
// user has none.
package rbac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccessLevel is the strength of a grant.
type AccessLevel string

const (
	AccessView AccessLevel = "view"
	AccessEdit AccessLevel = "edit"
	AccessFull AccessLevel = "full"
)

// Grant gives a user access to one menu node, addressed by its RouteID or,
// for older grants, by its label.
type Grant struct {
	TargetID string      `json:"id"`
	Access   AccessLevel `json:"access"`
}

// UnmarshalJSON accepts both the short keys and the long form
// {"targetId": ..., "accessLevel": ...}.
func (g *Grant) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string `json:"id"`
		TargetID    string `json:"targetId"`
		Access      string `json:"access"`
		AccessLevel string `json:"accessLevel"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.TargetID = firstNonEmpty(raw.ID, raw.TargetID)
	g.Access = AccessLevel(strings.ToLower(strings.TrimSpace(firstNonEmpty(raw.Access, raw.AccessLevel))))
	return nil
}

// UserRecord is the subject of a permission check. A nil or empty Grants
// list means role-based resolution.
type UserRecord struct {
	Username string  `json:"username"`
	Role     string  `json:"role"`
	Grants   []Grant `json:"permissions,omitempty"`
}

// Capabilities is the resolved right pair for one page.
type Capabilities struct {
	CanEdit   bool `json:"canEdit"`
	CanDelete bool `json:"canDelete"`
}

// ParseGrants decodes the JSON list kept in the accounts permissions
// column. Empty text and "null" yield nil.
func ParseGrants(text string) ([]Grant, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return nil, nil
	}
	var grants []Grant
	if err := json.Unmarshal([]byte(text), &grants); err != nil {
		return nil, fmt.Errorf("rbac: decode grants: %w", err)
	}
	return grants, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
