package ui

import (
	"fmt"
	"strings"
)

// Row is one line of a rendered shopping list.
type Row struct {
	Name    string
	Brand   string
	Count   int
	InCart  bool
	Note    string
	Pending bool // toggled locally, not yet confirmed by the primary
	Ref     string
}

// RenderList renders a titled checklist. Rows are printed in the order
// given; callers sort them first.
func RenderList(title, subtitle string, rows []Row) string {
	var b strings.Builder

	b.WriteString(RenderHeader(title))
	if subtitle != "" {
		b.WriteString("  " + RenderMuted(subtitle))
	}
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(RenderMuted("  (empty)") + "\n")
		return b.String()
	}

	done := 0
	for _, r := range rows {
		if r.InCart {
			done++
		}
		b.WriteString(renderRow(r))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("%d/%d in cart", done, len(rows))
	if done == len(rows) {
		b.WriteString(RenderPass(summary) + "\n")
	} else {
		b.WriteString(RenderMuted(summary) + "\n")
	}
	return b.String()
}

func renderRow(r Row) string {
	box := "[ ]"
	if r.InCart {
		box = RenderPass("[x]")
	}

	name := r.Name
	if r.Brand != "" {
		name += " (" + r.Brand + ")"
	}
	if r.InCart {
		name = doneStyle.Render(name)
	}

	line := "  " + box + " " + name
	if r.Count > 1 {
		line += " " + RenderAccent(fmt.Sprintf("x%d", r.Count))
	}
	if r.Note != "" {
		line += "  " + RenderMuted("- "+r.Note)
	}
	if r.Pending {
		line += " " + RenderWarn("*")
	}
	if r.Ref != "" {
		line += "  " + RenderMuted(r.Ref)
	}
	return line
}
