package task

import (
	"strings"
	"time"
)

// 列表接口的分页上限。
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SortOrder 决定查询列表按更新时间的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的查询在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的查询在前。
	SortByUpdatedAsc
)

// ListOptions 描述查询列表与统计的过滤条件，零值字段不参与过滤。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	DryRun     *bool
	TimedOut   *bool
	// Agent 按执行结果中的 agent 账户地址精确匹配。
	Agent string
	Order SortOrder
	Query string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultListLimit
	case opts.Limit > MaxListLimit:
		opts.Limit = MaxListLimit
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
	opts.Agent = strings.TrimSpace(opts.Agent)
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量，超过 MaxListLimit 时截断。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只返回处于指定状态的查询。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithUpdatedBetween 按更新时间过滤，零值表示该端不设限。
func WithUpdatedBetween(since, until time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.UpdatedGTE = unixOrZero(since)
		opts.UpdatedLTE = unixOrZero(until)
	}
}

// WithResultPresence 按是否已有执行结果过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithDryRun 区分试运行查询与真实上链查询。
func WithDryRun(dryRun bool) ListOption {
	return func(opts *ListOptions) { opts.DryRun = &dryRun }
}

// WithTimedOut 按是否在等待窗口内拿到回复过滤。
func WithTimedOut(timedOut bool) ListOption {
	return func(opts *ListOptions) { opts.TimedOut = &timedOut }
}

// WithAgent 只返回写入指定 agent 账户的查询。
func WithAgent(agent string) ListOption {
	return func(opts *ListOptions) { opts.Agent = agent }
}

// WithSortOrder 修改排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在 id、提示词、maker、agent、错误与回复中做子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func normalizeStatuses(input []Status) []Status {
	seen := make(map[Status]struct{}, len(input))
	var result []Status
	for _, status := range input {
		if _, dup := seen[status]; dup || !IsValidStatus(status) {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	return result
}
