package types

import (
	"strings"
	"time"
)

// Role is the authorization level attached to a user record.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the two defined roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Finding is one recorded detection event produced by an external scanner
// agent. ID and Timestamp are assigned by the store on insert when absent.
type Finding struct {
	ID         int64     `json:"id" db:"id"`
	Hostname   *string   `json:"hostname,omitempty" db:"hostname"`
	Source     string    `json:"source" db:"source"`
	ColumnName string    `json:"column_name" db:"column_name"`
	Detected   string    `json:"detected" db:"detected"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Host returns the hostname or "" when the record carries none.
func (f Finding) Host() string {
	if f.Hostname == nil {
		return ""
	}
	return *f.Hostname
}

// IngestRequest is the wire form accepted from scanner agents. The detected
// list is joined into the stored Detected string with ", " so the dashboard's
// substring matching sees the same representation the agents produced.
type IngestRequest struct {
	Hostname   string   `json:"hostname"`
	Source     string   `json:"source"`
	ColumnName string   `json:"column_name"`
	Detected   []string `json:"detected"`
	APIKey     string   `json:"api_key,omitempty"`
}

// JoinDetected serializes the detected tag list into its stored form.
func (r IngestRequest) JoinDetected() string {
	return strings.Join(r.Detected, ", ")
}

// User is one credential/authorization record. PasswordHash is a PHC-encoded
// argon2id hash; the plaintext password is never stored or logged.
type User struct {
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"role" db:"role"`
}

// UserInfo is the admin-facing listing projection of a user record.
type UserInfo struct {
	Username string `json:"username" db:"username"`
	Role     Role   `json:"role" db:"role"`
}

// DashboardView is the tuple of filtered rows plus the two aggregate views.
// All three are computed from the same snapshot of at most 100 recent rows,
// so a row counted in CategoryCounts or HostCounts always appears in Rows.
type DashboardView struct {
	Rows           []Finding      `json:"rows"`
	CategoryCounts map[string]int `json:"category_counts"`
	HostCounts     map[string]int `json:"host_counts"`

	// Facet lists for filter pickers, sorted ascending. Hostnames excludes
	// records with no hostname.
	Hostnames []string `json:"hostnames"`
	Sources   []string `json:"sources"`

	// Filter echoes the category filter the view was computed under, "" when
	// unfiltered.
	Filter string `json:"filter,omitempty"`
}
