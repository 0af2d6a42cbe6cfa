package commands

import (
	"context"
	"errors"

	kit "respawnbot/internal/transport"
	"respawnbot/internal/transport/router"
	"respawnbot/internal/view"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

// edit replaces the message the button sits on. A message that is gone is
// replaced by a new one; a throttled edit is retried once.
func edit(ctx context.Context, req *router.Request, msg chatui.Message) error {
	ref := req.MessageRef()
	if !ref.IsZero() {
		err := kit.RetryOnce(ctx, 0, func(ctx context.Context) error {
			return req.Adapter.EditText(ctx, ref, msg.Text, msg.Opt)
		})
		if err == nil || !errors.Is(err, kit.ErrMessageNotFound) {
			if err != nil {
				req.Logger.Warn("edit failed", logx.Err(err))
			}
			return err
		}
	}
	return send(ctx, req, msg)
}

func (s *Set) cbRefresh(ctx context.Context, req *router.Request, payload string) error {
	return s.showTable(ctx, req, payload == view.PayloadCompact)
}

func (s *Set) cbCompact(ctx context.Context, req *router.Request, _ string) error {
	return s.showTable(ctx, req, true)
}

func (s *Set) cbFull(ctx context.Context, req *router.Request, _ string) error {
	return s.showTable(ctx, req, false)
}

func (s *Set) showTable(ctx context.Context, req *router.Request, compact bool) error {
	return edit(ctx, req, view.TableMessage(s.timers.Snapshot(), s.now(), s.viewOpts(req, compact)))
}

func (s *Set) cbNext(ctx context.Context, req *router.Request, _ string) error {
	return edit(ctx, req, view.NextUp(s.timers.Snapshot(), s.now(), s.viewOpts(req, true)))
}

// cbSubscribe answers with a toast; the message itself does not change.
func (s *Set) cbSubscribe(ctx context.Context, req *router.Request, payload string) error {
	text, err := s.doSubscribe(ctx, req, payload)
	if err != nil {
		req.Logger.Error("subscribe failed", logx.Err(err))
		_ = req.Answer(ctx, msgInternal)
		return err
	}
	return req.Answer(ctx, text)
}
