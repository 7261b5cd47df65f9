package task

// TaskStats 汇总查询的状态分布。TimedOut 统计已上链但等待窗口内没有回复的查询，
// DryRun 统计只推导地址未发送交易的查询。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	TimedOut        int   `json:"timed_out"`
	DryRun          int   `json:"dry_run"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
