package ipc

import (
	"context"
	"fmt"
)

// StateProvider reports the Segmenter's current lifecycle state for the
// `status` command (e.g. "idle", "recording").
type StateProvider func() string

// defaultQueueLimit is how many pending/recent items handleQueue returns
// when the caller doesn't specify --limit, matching the reference
// implementation's cmd_queue() (10 pending, 20 recent).
const defaultQueueLimit = 10

// DaemonHandler implements Handler for the running `start` daemon, backing
// the status/queue/retry/cleanup CLI subcommands over the unix socket.
// Its fields are narrow closures rather than *queue.Queue/*sender.Sender
// directly, so ipc stays free of a dependency on those packages' internals.
type DaemonHandler struct {
	Stats    func() (any, error)
	Pending  func(limit int) (any, error)
	Recent   func(limit int) (any, error)
	Cleanup  func(days int) (removed int64, err error)
	Retry    func(ctx context.Context, id string) error
	IsOnline func() bool
	State    StateProvider
	Version  string
}

func (h DaemonHandler) Handle(ctx context.Context, req Request) Response {
	switch req.Command {
	case CommandStatus:
		return h.handleStatus()
	case CommandQueue:
		return h.handleQueue(req)
	case CommandRetry:
		return h.handleRetry(ctx, req)
	case CommandCleanup:
		return h.handleCleanup(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (h DaemonHandler) handleStatus() Response {
	state := "unknown"
	if h.State != nil {
		state = h.State()
	}
	online := h.IsOnline != nil && h.IsOnline()
	return Response{
		OK:    true,
		State: state,
		Data: map[string]any{
			"version": h.Version,
			"online":  online,
		},
	}
}

// handleQueue reports aggregate per-status counts plus a pending-items
// view and a recent-activity view across all statuses, matching the
// reference implementation's cmd_queue() (get_all_pending()[:10] and
// list_all(20)). req.Limit, when positive, overrides both view sizes.
func (h DaemonHandler) handleQueue(req Request) Response {
	if h.Stats == nil {
		return Response{OK: false, Error: "queue stats unavailable"}
	}
	stats, err := h.Stats()
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}

	pendingLimit, recentLimit := defaultQueueLimit, 2*defaultQueueLimit
	if req.Limit > 0 {
		pendingLimit, recentLimit = req.Limit, req.Limit
	}

	data := map[string]any{"stats": stats}

	if h.Pending != nil {
		pending, err := h.Pending(pendingLimit)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		data["pending"] = pending
	}

	if h.Recent != nil {
		recent, err := h.Recent(recentLimit)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		data["recent"] = recent
	}

	return Response{OK: true, Data: data}
}

func (h DaemonHandler) handleRetry(ctx context.Context, req Request) Response {
	if req.ItemID == "" {
		return Response{OK: false, Error: "retry requires item_id"}
	}
	if h.Retry == nil {
		return Response{OK: false, Error: "sender unavailable"}
	}
	if err := h.Retry(ctx, req.ItemID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Message: fmt.Sprintf("retry scheduled for %s", req.ItemID)}
}

func (h DaemonHandler) handleCleanup(req Request) Response {
	if h.Cleanup == nil {
		return Response{OK: false, Error: "queue cleanup unavailable"}
	}
	days := req.Days
	if days <= 0 {
		days = 30
	}
	removed, err := h.Cleanup(days)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Message: fmt.Sprintf("removed %d sent item(s) older than %d days", removed, days), Data: removed}
}
