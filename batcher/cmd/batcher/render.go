package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
)

func renderItems(snap queue.Snapshot) string {
	rows := make([][]string, 0, len(snap.Items))
	for i, it := range snap.Items {
		outcome := it.ResultRef
		if it.Status == domain.StatusFailed {
			outcome = it.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			filepath.Base(it.SourceRef),
			statusLabel(it.Status),
			strconv.Itoa(it.Attempts),
			resultSize(it),
			outcome,
		})
	}
	return renderTable(
		[]string{"#", "Source", "Status", "Attempts", "Size", "Result"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func renderBatches(snaps []queue.Snapshot, now time.Time) string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		counts := s.Counts()
		rows = append(rows, []string{
			s.BatchID,
			string(s.Phase),
			strconv.Itoa(len(s.Items)),
			strconv.Itoa(counts[domain.StatusCompleted]),
			strconv.Itoa(counts[domain.StatusFailed]),
			lastUpdate(s, now),
		})
	}
	return renderTable(
		[]string{"Batch", "Phase", "Items", "Completed", "Failed", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

// progressLine formats one batch event for the terminal. Events with nothing
// to show return "".
func progressLine(ev queue.Event, snap queue.Snapshot, colorize bool) string {
	total := len(snap.Items)
	switch ev.Type {
	case queue.EventItemStarted:
		if ev.Index < 0 || ev.Index >= total {
			return ""
		}
		return fmt.Sprintf("[%d/%d] processing %s", ev.Index+1, total, filepath.Base(snap.Items[ev.Index].SourceRef))
	case queue.EventItemDone:
		if ev.Item == nil {
			return ""
		}
		return fmt.Sprintf("[%d/%d] %s %s -> %s", ev.Index+1, total, paint("done", ansiGreen, colorize), filepath.Base(ev.Item.SourceRef), ev.Item.ResultRef)
	case queue.EventItemFailed:
		if ev.Item == nil {
			return ""
		}
		return fmt.Sprintf("[%d/%d] %s %s: %s", ev.Index+1, total, paint("failed", ansiRed, colorize), filepath.Base(ev.Item.SourceRef), ev.Item.Error)
	case queue.EventQueueDone:
		return fmt.Sprintf("batch %s finished: %d succeeded, %d failed", snap.BatchID, ev.Success, ev.Failure)
	default:
		return ""
	}
}

func paint(s, color string, colorize bool) string {
	if !colorize {
		return s
	}
	return color + s + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusLabel(s domain.Status) string {
	if s == "" {
		return "-"
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func resultSize(it domain.QueueItem) string {
	if it.ResultRef == "" {
		return "-"
	}
	info, err := os.Stat(it.ResultRef)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func lastUpdate(s queue.Snapshot, now time.Time) string {
	var last time.Time
	for _, it := range s.Items {
		if it.UpdatedAt.After(last) {
			last = it.UpdatedAt
		}
	}
	if last.IsZero() {
		return "-"
	}
	return humanize.RelTime(last, now, "ago", "from now")
}
