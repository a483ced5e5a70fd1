package session

import (
	"encoding/json"
	"strconv"
)

// State is the authentication state of the process.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Profile is the identity payload returned by the server. Only the user ID
// is interpreted; everything else is kept as received.
type Profile struct {
	UserID int64
	Raw    json.RawMessage
}

// Snapshot is what listeners receive on every emit. Profile is set only in
// StateAuthenticated.
type Snapshot struct {
	State   State
	Profile *Profile
}

// Authenticated reports whether the snapshot holds a signed-in user.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Profile != nil
}

// parseProfile reads the user ID from an identity payload. The server has
// sent it both as a number and as a numeric string; anything else leaves
// UserID at zero.
func parseProfile(raw json.RawMessage) *Profile {
	p := &Profile{Raw: raw}

	var body struct {
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.UserID) == 0 {
		return p
	}

	var n json.Number
	if err := json.Unmarshal(body.UserID, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			p.UserID = id
		}
		return p
	}

	var s string
	if err := json.Unmarshal(body.UserID, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			p.UserID = id
		}
	}
	return p
}
