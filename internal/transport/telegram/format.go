package telegram

import (
	"fmt"
	"strings"
	"time"

	"sheetmail/internal/dispatch"
	"sheetmail/internal/source"
	"sheetmail/internal/storage"
	"sheetmail/pkg/tgui"
)

// maxErrRunes keeps relay error text from flooding a status card.
const maxErrRunes = 300

func esc(s string) string { return tgui.Esc(s).String() }

func formatGroups(groups []source.GroupInfo) string {
	if len(groups) == 0 {
		return "no groups in workbook"
	}
	var b strings.Builder
	b.WriteString("<b>Groups</b>\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "• %s", tgui.Code(g.ID))
		if g.DisplayName != "" {
			fmt.Fprintf(&b, " (%s)", esc(g.DisplayName))
		}
		fmt.Fprintf(&b, " %d recipients, %s\n", g.Recipients, g.State)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTemplates(group string, names []string) string {
	scope := "shared"
	if group != "" {
		scope = esc(group)
	}
	if len(names) == 0 {
		return "no templates for " + scope
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Templates</b> (%s)\n", scope)
	for _, n := range names {
		fmt.Fprintf(&b, "• %s\n", tgui.Code(n))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStatus(st dispatch.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", tgui.B(st.GroupID), st.State)
	if st.State == dispatch.StateIdle {
		return b.String()
	}
	p := st.Progress
	fmt.Fprintf(&b, "\ntemplate: %s", tgui.Code(st.Template))
	fmt.Fprintf(&b, "\nprogress: %d/%d (sent %d, rejected %d)", p.Processed, p.Total, p.Sent, p.Rejected)
	if p.Batches > 0 {
		fmt.Fprintf(&b, "\nbatch: %d/%d", max(p.Batch, 1), p.Batches)
	}
	if st.State == dispatch.StateFailed {
		fmt.Fprintf(&b, "\nreason: %s", st.Reason)
		if msg := st.Error(); msg != "" {
			fmt.Fprintf(&b, "\nerror: %s", esc(tgui.TruncRunes(msg, maxErrRunes)))
		}
		if st.Fatal != nil {
			fmt.Fprintf(&b, "\nstopped at: %s", esc(st.Fatal.Address))
		}
	}
	if !st.FinishedAt.IsZero() && !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "\ntook: %s", st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	}
	return b.String()
}

// formatFinished is the completion notification for one run.
func formatFinished(st dispatch.Status) string {
	icon := "✅"
	if st.State == dispatch.StateFailed {
		icon = "⚠️"
	}
	return icon + " " + formatStatus(st)
}

func formatHistory(runs []storage.RunRecord) string {
	if len(runs) == 0 {
		return "no runs recorded"
	}
	var b strings.Builder
	b.WriteString("<b>Recent runs</b>\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "• %s %s %s %d/%d sent",
			r.FinishedAt.Local().Format("01-02 15:04"), tgui.Code(r.GroupID), r.State, r.Sent, r.Total)
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
