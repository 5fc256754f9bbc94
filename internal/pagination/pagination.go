// Package pagination pages through a mailbox folder on a store that only
// supports forward cursors. It provides request parameter parsing for the
// HTTP API and the Coordinator, which keeps the per-view list of page cursors
// and the total count used for "page X of Y".
package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.io/infrasutra/postbox/internal/store"
)

// Params selects what a view pages through: a folder or the starred filter,
// plus the page size and the 1-based page number.
type Params struct {
	Folder   store.Folder // Empty with Starred set means every folder
	Starred  *bool
	Read     *bool
	PageSize int
	Page     int
}

const (
	// MaxPageSize is the largest page the API hands out.
	MaxPageSize = 100
	// DefaultPage is the page a fresh view starts on.
	DefaultPage = 1
	// DefaultPageSize matches the mailbox views.
	DefaultPageSize = 5
	// DefaultFolder is used when neither folder nor starred is given.
	DefaultFolder = store.FolderInbox
)

var ErrInvalidParams = errors.New("invalid pagination parameters")

// Filter scopes the params to one owner.
func (p Params) Filter(owner string) store.Filter {
	return store.Filter{
		Owner:   owner,
		Folder:  p.Folder,
		Starred: p.Starred,
		Read:    p.Read,
	}
}

// sameView reports whether two params select the same result set and page
// size, ignoring the page number.
func (p Params) sameView(other Params) bool {
	return p.Folder == other.Folder &&
		equalFlag(p.Starred, other.Starred) &&
		equalFlag(p.Read, other.Read) &&
		p.PageSize == other.PageSize
}

func equalFlag(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Option is a function type for configuring pagination defaults.
type Option func(*Params)

// WithDefaultPageSize sets the page size used when the request has none.
// Values <= 0 are ignored.
func WithDefaultPageSize(size int) Option {
	return func(p *Params) {
		if size > 0 {
			p.PageSize = size
		}
	}
}

// WithDefaultFolder sets the folder used when the request names neither a
// folder nor the starred filter.
func WithDefaultFolder(folder store.Folder) Option {
	if _, err := store.ParseFolder(string(folder)); err != nil {
		return func(p *Params) {}
	}
	return func(p *Params) {
		p.Folder = folder
	}
}

// ParseParams extracts folder, starred, read, page and pageSize (or limit)
// from URL query values. Unknown folders and malformed flags are errors;
// malformed numbers fall back to the defaults.
func ParseParams(q url.Values, opts ...Option) (*Params, error) {
	params := &Params{
		Folder:   DefaultFolder,
		PageSize: DefaultPageSize,
		Page:     DefaultPage,
	}
	for _, opt := range opts {
		opt(params)
	}

	starred, err := parseFlag(q.Get("starred"))
	if err != nil {
		return nil, err
	}
	read, err := parseFlag(q.Get("read"))
	if err != nil {
		return nil, err
	}
	params.Starred = starred
	params.Read = read

	if folderStr := strings.TrimSpace(q.Get("folder")); folderStr != "" {
		folder, err := store.ParseFolder(folderStr)
		if err != nil {
			return nil, ErrInvalidParams
		}
		params.Folder = folder
	} else if starred != nil && *starred {
		params.Folder = ""
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			params.Page = val
		}
	}

	sizeStr := q.Get("pageSize")
	if sizeStr == "" {
		sizeStr = q.Get("limit")
	}
	if sizeStr != "" {
		if val, err := strconv.Atoi(sizeStr); err == nil && val > 0 {
			params.PageSize = val
		}
	}

	// enforce max page size
	if params.PageSize > MaxPageSize {
		params.PageSize = MaxPageSize
	}

	return params, nil
}

func parseFlag(value string) (*bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, ErrInvalidParams
	}
	return &parsed, nil
}

// TotalPages is never below one so an empty folder still shows "page 1 of 1".
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
