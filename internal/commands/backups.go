package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"respawnbot/internal/backup"
	"respawnbot/internal/timefmt"
	"respawnbot/internal/transport/router"
	"respawnbot/pkg/chatui"
)

const maxListedBackups = 10

func (s *Set) backupNow(ctx context.Context, req *router.Request) error {
	info, err := s.backups.Create(ctx)
	if err != nil {
		return internal(ctx, req, "backup failed", err)
	}
	return send(ctx, req, chatui.New(req.Style).
		Title("💾", "Backup created").
		RawLine(req.Style.Code(info.ID)).
		KV("Size", humanize.Bytes(uint64(info.Size))).
		Build())
}

func (s *Set) listBackups(ctx context.Context, req *router.Request) error {
	list, err := s.backups.List()
	if err != nil {
		return internal(ctx, req, "list backups failed", err)
	}
	if len(list) == 0 {
		return reply(ctx, req, "No backups yet. Use /backup to write one.")
	}
	st := req.Style
	b := chatui.New(st).Title("💾", fmt.Sprintf("Backups (%d)", len(list)))
	for _, in := range list[:min(len(list), maxListedBackups)] {
		var tags []string
		if in.Compressed {
			tags = append(tags, "zstd")
		}
		if in.Checksum {
			tags = append(tags, "b3")
		}
		line := "• " + st.Code(in.ID) + st.Esc(fmt.Sprintf(" · %s · %s", humanize.Bytes(uint64(in.Size)), humanize.RelTime(in.Created, s.now(), "ago", "from now")))
		if len(tags) > 0 {
			line += st.Esc(" · " + strings.Join(tags, " "))
		}
		b.RawLine(line)
	}
	if len(list) > maxListedBackups {
		b.Line(fmt.Sprintf("…and %d older.", len(list)-maxListedBackups))
	}
	return send(ctx, req, b.Line("").RawLine("Restore with "+st.Code("/restore <id>")).Build())
}

func (s *Set) restore(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, "/restore <backup id>")
	}
	id := req.Args[0]
	doc, err := s.backups.Restore(ctx, id)
	switch {
	case errors.Is(err, backup.ErrInvalidID), errors.Is(err, backup.ErrNotFound):
		return reply(ctx, req, "No backup named "+id+". See /backups.")
	case errors.Is(err, backup.ErrChecksumMismatch):
		return reply(ctx, req, "Backup "+id+" failed its checksum; nothing was restored.")
	case err != nil:
		return internal(ctx, req, "restore failed", err)
	}
	return send(ctx, req, chatui.New(req.Style).
		Title("♻️", "Backup restored").
		RawLine(req.Style.Code(id)).
		KV("Timers", fmt.Sprint(len(doc.Timers))).
		KV("Users", fmt.Sprint(len(doc.Stats))).
		KV("Subscriptions", fmt.Sprint(len(doc.Subscriptions))).
		KV("Taken", timefmt.Clock(doc.Timestamp, s.loc)+" "+doc.Timestamp.In(s.loc).Format("2006-01-02")).
		Build())
}
