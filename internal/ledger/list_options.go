package ledger

import (
	"strings"
	"time"

	"OpenRoute-Chain/internal/route"
)

// SortOrder defines how results are ordered when listing routes.
type SortOrder int

const (
	// SortByUpdatedDesc orders routes by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders routes by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how routes are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []route.Status
	Account    string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
	Query      string
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Account = strings.TrimSpace(opts.Account)
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of routes returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset skips the first n matching routes.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses filters routes by status.
func WithStatuses(statuses ...route.Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithAccount filters routes executed by one account.
func WithAccount(account string) ListOption {
	return func(opts *ListOptions) { opts.Account = account }
}

// WithUpdatedSince filters routes updated at or after ts.
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters routes updated at or before ts.
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery matches the route id, account, tools and last error.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []route.Status) []route.Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[route.Status]struct{}, len(input))
	result := make([]route.Status, 0, len(input))
	for _, status := range input {
		if !status.Valid() {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// matches reports whether r passes the filters of opts. Limit, offset and
// order are applied by the caller.
func (opts ListOptions) matches(r *Record) bool {
	if len(opts.Statuses) > 0 {
		found := false
		for _, s := range opts.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.Account != "" && !strings.EqualFold(opts.Account, r.Account) {
		return false
	}
	if opts.UpdatedGTE > 0 && r.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && r.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		haystack := []string{r.ID, r.Account, r.LastError, r.ErrorCode}
		for _, step := range r.Route.Steps {
			haystack = append(haystack, step.Tool)
		}
		hit := false
		for _, h := range haystack {
			if strings.Contains(strings.ToLower(h), q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
