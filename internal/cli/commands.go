// Package cli renders the session journal for the sparcd command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sparc-project/sparcd/internal/db"
	"github.com/sparc-project/sparcd/internal/util"
)

// JournalReader is the part of the journal the CLI reads.
type JournalReader interface {
	RecentSessions(ctx context.Context, limit int) ([]db.SessionRecord, error)
	SessionRequests(ctx context.Context, sessionID string) ([]db.RequestRecord, error)
	Stats(ctx context.Context) (db.JournalStats, error)
}

// ShowJournal prints recent sessions, or the requests of one session when
// sessionID is set.
func ShowJournal(ctx context.Context, w io.Writer, j JournalReader, limit int, sessionID string) error {
	if sessionID != "" {
		reqs, err := j.SessionRequests(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("no requests recorded for session %s", sessionID)
		}
		fmt.Fprintf(w, "\nSession %s\n", sessionID)
		RenderRequests(w, reqs)
		return nil
	}

	sessions, err := j.RecentSessions(ctx, limit)
	if err != nil {
		return err
	}
	stats, err := j.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	RenderSessions(w, sessions)
	fmt.Fprintf(w, "%d sessions, %d requests journaled\n", stats.Sessions, stats.Requests)
	return nil
}

// RenderSessions writes one table row per session.
func RenderSessions(w io.Writer, sessions []db.SessionRecord) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Session", "Remote", "Opened", "Duration", "Reason", "Status", "Requests", "In", "Out"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		duration := "-"
		reason := "open"
		if s.ClosedAt != nil {
			duration = s.ClosedAt.Sub(s.OpenedAt).Round(time.Millisecond).String()
			reason = s.Reason
		}

		tw.Append([]string{
			shortID(s.ID),
			s.Remote,
			s.OpenedAt.Format(time.DateTime),
			duration,
			reason,
			strconv.Itoa(s.Status),
			strconv.Itoa(s.Requests),
			util.FormatBytes(s.BytesIn),
			util.FormatBytes(s.BytesOut),
		})
	}

	tw.Render()
}

// RenderRequests writes one table row per request.
func RenderRequests(w io.Writer, reqs []db.RequestRecord) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"#", "Kind", "Status", "Duration", "In", "Out", "Error"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for i, r := range reqs {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			r.Kind,
			strconv.Itoa(r.Status),
			r.Duration.String(),
			strconv.FormatInt(r.BytesIn, 10),
			strconv.FormatInt(r.BytesOut, 10),
			r.Error,
		})
	}

	tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
