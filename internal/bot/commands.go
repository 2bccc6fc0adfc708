package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/debridrelay/debridrelay/internal/cache"
	"github.com/debridrelay/debridrelay/internal/debrid"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/history"
	"github.com/debridrelay/debridrelay/internal/pipeline"
	"github.com/debridrelay/debridrelay/internal/progress"
)

const helpText = `Commands:
/magnet <uri> - download a magnet and send the file here
/relay <id> - send an already downloaded torrent
/downloads [page] - list completed torrents
/info <id> - size, resolution and link of a torrent
/delete <id> - delete a torrent
/history - recent relays
/feedtoken - token for the live progress feed`

func (b *Bot) help(ctx context.Context, arg string) string {
	return helpText
}

func (b *Bot) magnet(ctx context.Context, arg string) string {
	if err := ValidateMagnet(arg); err != nil {
		return "❗ " + err.Error() + "\nUsage: /magnet magnet:?xt=urn:btih:<hash>"
	}
	t := pipeline.NewSubmitTask(b.cfg.ChatID, arg)
	if err := b.tasks.Submit(ctx, t); err != nil {
		return failure(err)
	}
	return "📥 Magnet queued"
}

func (b *Bot) relay(ctx context.Context, arg string) string {
	if ValidateID(arg) != nil {
		return "Usage: /relay <torrent id>"
	}
	t := pipeline.NewRelayTask(b.cfg.ChatID, arg)
	if err := b.tasks.Submit(ctx, t); err != nil {
		return failure(err)
	}
	return "📥 Relay queued for " + arg
}

func (b *Bot) downloads(ctx context.Context, arg string) string {
	page := 1
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return "Usage: /downloads [page]"
		}
		page = n
	}

	finished, err := b.remote.ListTorrents(ctx, debrid.StatusDownloaded)
	if err != nil {
		return failure(err)
	}
	if len(finished) == 0 {
		return "❗ No completed torrents found."
	}

	pages := (len(finished) + b.cfg.PageSize - 1) / b.cfg.PageSize
	if page > pages {
		page = pages
	}
	start := (page - 1) * b.cfg.PageSize
	end := min(start+b.cfg.PageSize, len(finished))

	var sb strings.Builder
	fmt.Fprintf(&sb, "📁 Completed Torrents (Page %d/%d)\n", page, pages)
	for _, t := range finished[start:end] {
		fmt.Fprintf(&sb, "\n%s\n  id %s, %s", t.Filename, t.ID, progress.GiB(t.Bytes))
	}
	if page < pages {
		fmt.Fprintf(&sb, "\n\nNext: /downloads %d", page+1)
	}
	return sb.String()
}

func (b *Bot) info(ctx context.Context, arg string) string {
	if ValidateID(arg) != nil {
		return "Usage: /info <torrent id>"
	}
	job, err := b.remote.Info(ctx, arg)
	if err != nil {
		return failure(err)
	}

	downloads, err := b.remote.ListDownloads(ctx)
	if err != nil {
		return failure(err)
	}
	var match *debrid.Download
	for i := range downloads {
		if downloads[i].Filename == job.Filename {
			match = &downloads[i]
			break
		}
	}
	if match == nil {
		return "❗ File not found / not ready yet."
	}

	resolution := "N/A"
	info, err := cache.Remember(ctx, b.cache, "mediainfo:"+match.ID, mediaInfoTTL,
		func(ctx context.Context) (*debrid.MediaInfo, error) {
			return b.remote.MediaInfo(ctx, match.ID)
		})
	if err != nil {
		b.log.Warn(ctx, "media info unavailable", map[string]interface{}{
			"download_id": match.ID,
			"error":       err.Error(),
		})
	} else {
		resolution = info.Resolution()
	}

	return fmt.Sprintf("📄 %s\n💾 Size: %s\n📺 Resolution: %s\n🔗 %s",
		match.Filename, progress.GiB(match.Filesize), resolution, match.Download)
}

func (b *Bot) delete(ctx context.Context, arg string) string {
	if ValidateID(arg) != nil {
		return "Usage: /delete <torrent id>"
	}
	deleted, err := b.remote.Delete(ctx, arg)
	if err != nil {
		return failure(err)
	}
	if !deleted {
		return "❗ " + arg + " was not deleted"
	}
	return "🗑 Deleted " + arg
}

func (b *Bot) recent(ctx context.Context, arg string) string {
	if b.history == nil {
		return "History is not configured."
	}
	entries, err := b.history.Recent(ctx, b.cfg.ChatID, 10)
	if err != nil {
		return failure(err)
	}
	if len(entries) == 0 {
		return "No relays yet."
	}

	var sb strings.Builder
	sb.WriteString("🕘 Recent relays\n")
	for _, e := range entries {
		mark := "✅"
		if e.Status == history.StatusFailed {
			mark = "❌"
		}
		fmt.Fprintf(&sb, "\n%s %s\n  %s in %s, %s", mark, e.Filename,
			progress.Bytes(e.Bytes), e.Duration().Round(time.Second), e.FinishedAt.Format("2006-01-02 15:04"))
		if e.ErrorCode != "" {
			fmt.Fprintf(&sb, " (%s)", e.ErrorCode)
		}
	}
	return sb.String()
}

func (b *Bot) feedToken(ctx context.Context, arg string) string {
	if b.tokens == nil {
		return "The progress feed is not configured."
	}
	token, expires, err := b.tokens.Issue(b.cfg.ChatID)
	if err != nil {
		return failure(err)
	}
	return fmt.Sprintf("🔑 Feed token, valid until %s UTC:\n%s\n\nConnect to /ws?token=<token>",
		expires.UTC().Format("2006-01-02 15:04"), token)
}

func failure(err error) string {
	return "❌ " + apperrors.Describe(err)
}
