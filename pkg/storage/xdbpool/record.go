package xdbpool

import (
	"container/list"
	"time"
)

// connRecord 是连接的唯一权威记录，由 Pool 持有并受 Pool.mu 保护。
// 生命周期管理器只通过 Pool 的方法读写记录。
type connRecord struct {
	id   string
	conn Connection

	created       time.Time
	lastUsed      time.Time
	lastValidated time.Time

	usage               int64
	errorCount          int64
	consecutiveFailures int
	healthy             bool
	valid               bool
	state               ConnState

	// reported 表示当前失败周期内已发出过 health_check_failed。
	reported bool
	// idleElem 仅在 state == StateIdle 时非 nil。
	idleElem *list.Element
}

func newRecord(id string, conn Connection, now time.Time) *connRecord {
	return &connRecord{
		id:            id,
		conn:          conn,
		created:       now,
		lastUsed:      now,
		lastValidated: now,
		healthy:       true,
		valid:         true,
		state:         StateCreating,
	}
}

func (r *connRecord) markActive(now time.Time) {
	r.state = StateActive
	r.usage++
	r.lastUsed = now
}

func (r *connRecord) lifetimeExceeded(cfg Config, now time.Time) bool {
	return cfg.MaxLifetime > 0 && now.Sub(r.created) >= cfg.MaxLifetime
}

func (r *connRecord) idleExceeded(cfg Config, now time.Time) bool {
	return cfg.IdleTimeout > 0 && now.Sub(r.lastUsed) >= cfg.IdleTimeout
}

func (r *connRecord) usable() bool {
	return r.healthy && r.valid
}

func (r *connRecord) info(now time.Time) ConnectionInfo {
	info := ConnectionInfo{
		ID:                  r.id,
		State:               r.state,
		Created:             r.created,
		LastUsed:            r.lastUsed,
		LastValidated:       r.lastValidated,
		Usage:               r.usage,
		ErrorCount:          r.errorCount,
		ConsecutiveFailures: r.consecutiveFailures,
		Healthy:             r.healthy,
		Valid:               r.valid,
		Age:                 now.Sub(r.created),
	}
	if r.state == StateIdle {
		info.IdleFor = now.Sub(r.lastUsed)
	}
	return info
}
