// Package services wraps the Noblelift resources behind typed calls. Every
// call goes through the authenticated gateway, so expiry handling and
// unauthorized sign-out apply uniformly.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/noblelift/noblelift-client/internal/api"
)

// DefaultListLimit is the page size used by list calls when none is given.
const DefaultListLimit = 200

// Client groups the resource services over one gateway.
type Client struct {
	Profiles   *Profiles
	Users      *Users
	Tasks      *Tasks
	Vehicles   *Vehicles
	TaskTopics *TaskTopics
}

func New(r api.Requester) *Client {
	return &Client{
		Profiles:   &Profiles{r: r},
		Users:      &Users{r: r},
		Tasks:      &Tasks{r: r},
		Vehicles:   &Vehicles{r: r},
		TaskTopics: &TaskTopics{r: r},
	}
}

// Item is a resource as returned by the API. Only the ID is typed.
type Item struct {
	ID  json.RawMessage
	Raw json.RawMessage
}

// IDString returns the ID without JSON quoting.
func (i Item) IDString() string {
	var s string
	if err := json.Unmarshal(i.ID, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(i.ID))
}

// Field returns a top-level string or number field as text, or "".
func (i Item) Field(name string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(i.Raw, &m); err != nil {
		return ""
	}
	v, ok := m[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if t := strings.TrimSpace(string(v)); t != "null" {
		return t
	}
	return ""
}

// extractItems accepts both list shapes the API uses: {"items":[...]} and
// a bare array. Anything else is an empty list.
func extractItems(raw json.RawMessage) []Item {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		var envelope struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return []Item{}
		}
		list = envelope.Items
	}

	items := make([]Item, 0, len(list))
	for _, el := range list {
		var head struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(el, &head)
		items = append(items, Item{ID: head.ID, Raw: el})
	}
	return items
}

func listItems(ctx context.Context, r api.Requester, path string) ([]Item, error) {
	raw, err := api.GetJSON[json.RawMessage](ctx, r, path)
	if err != nil {
		return nil, err
	}
	return extractItems(raw), nil
}

type Profiles struct {
	r api.Requester
}

// Me returns the identity payload of the signed-in user.
func (p *Profiles) Me(ctx context.Context) (json.RawMessage, error) {
	return api.GetJSON[json.RawMessage](ctx, p.r, api.DefaultProfilePath)
}

// Update patches the signed-in user's profile.
func (p *Profiles) Update(ctx context.Context, changes map[string]any) (json.RawMessage, error) {
	return api.PatchJSON[json.RawMessage](ctx, p.r, api.DefaultProfilePath, changes)
}

// SuperAdminRole is the role code with full directory and fleet access.
const SuperAdminRole = "super_admin"

type User struct {
	ID   int64 `json:"id"`
	Role struct {
		Code string `json:"code"`
	} `json:"role"`
	Raw json.RawMessage `json:"-"`
}

type Users struct {
	r api.Requester
}

func (u *Users) Get(ctx context.Context, id int64) (*User, error) {
	raw, err := api.GetJSON[json.RawMessage](ctx, u.r, "/users/"+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user %d: %w", id, err)
	}
	user.Raw = raw
	return &user, nil
}

// IsSuperAdmin reports whether user id holds the super admin role. Any
// error is treated as "no".
func (u *Users) IsSuperAdmin(ctx context.Context, id int64) bool {
	user, err := u.Get(ctx, id)
	if err != nil {
		return false
	}
	return strings.EqualFold(user.Role.Code, SuperAdminRole)
}

type Tasks struct {
	r api.Requester
}

// ListAssigned returns tasks assigned to userID.
func (t *Tasks) ListAssigned(ctx context.Context, userID int64, limit int) ([]Item, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id %d", userID)
	}
	q := url.Values{}
	q.Set("assignee_id", strconv.FormatInt(userID, 10))
	q.Set("limit", strconv.Itoa(normalizeLimit(limit)))
	return listItems(ctx, t.r, "/tasks?"+q.Encode())
}

// ListAvailable returns tasks visible to the user, including common ones
// nobody has taken yet.
func (t *Tasks) ListAvailable(ctx context.Context, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(normalizeLimit(limit)))
	return listItems(ctx, t.r, "/tasks?"+q.Encode())
}

// Take assigns a common task to the signed-in user.
func (t *Tasks) Take(ctx context.Context, id string) error {
	return api.PostVoid(ctx, t.r, "/tasks/"+url.PathEscape(id)+"/take")
}

// Release returns a taken task to the common pool.
func (t *Tasks) Release(ctx context.Context, id string) error {
	return api.PostVoid(ctx, t.r, "/tasks/"+url.PathEscape(id)+"/release")
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

type Vehicles struct {
	r api.Requester
}

func (v *Vehicles) List(ctx context.Context) ([]Item, error) {
	return listItems(ctx, v.r, "/vehicles")
}

// Create adds a vehicle. The server may answer without a body, in which
// case the returned payload is nil.
func (v *Vehicles) Create(ctx context.Context, vehicle any) (json.RawMessage, error) {
	return api.PostJSON[json.RawMessage](ctx, v.r, "/vehicles", vehicle)
}

type TaskTopics struct {
	r api.Requester
}

func (t *TaskTopics) List(ctx context.Context) ([]Item, error) {
	return listItems(ctx, t.r, "/task-topics")
}

func (t *TaskTopics) Delete(ctx context.Context, id int64) error {
	return api.Delete(ctx, t.r, "/task-topics/"+strconv.FormatInt(id, 10))
}
