package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"construction_chat/internal/client"
)

// terminalView renders the message list as one line per message. In live
// mode each render prints only the lines whose state changed.
type terminalView struct {
	out    io.Writer
	selfID uuid.UUID
	rows   int
	live   bool

	mu    sync.Mutex
	items []client.Item
	top   float64
	shown map[string]string
}

func newTerminalView(out io.Writer, selfID uuid.UUID, rows int, live bool) *terminalView {
	return &terminalView{
		out:    out,
		selfID: selfID,
		rows:   rows,
		live:   live,
		shown:  make(map[string]string),
	}
}

func (v *terminalView) Render(items []client.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = items
	if !v.live {
		return
	}
	for _, it := range items {
		key := itemKey(it)
		line := v.format(it)
		if v.shown[key] == line {
			continue
		}
		v.shown[key] = line
		fmt.Fprintln(v.out, line)
	}
}

func (v *terminalView) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.top = v.bottomLocked()
}

func (v *terminalView) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *terminalView) ScrollHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float64(len(v.items))
}

func (v *terminalView) SetScrollTop(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if top < 0 {
		top = 0
	}
	v.top = top
}

func (v *terminalView) bottomLocked() float64 {
	bottom := float64(len(v.items) - v.rows)
	if bottom < 0 {
		return 0
	}
	return bottom
}

// dump prints everything currently loaded.
func (v *terminalView) dump() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, it := range v.items {
		fmt.Fprintln(v.out, v.format(it))
	}
}

func (v *terminalView) format(it client.Item) string {
	m := it.Message
	who := shortID(m.SenderID)
	if m.SenderID == v.selfID {
		who = "me"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s %s", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " [%s %s]", a.OriginalFilename, a.URL)
	}
	for _, f := range it.LocalFiles {
		fmt.Fprintf(&b, " [%s]", f.Name)
	}
	if m.UpdatedAt.After(m.CreatedAt) {
		b.WriteString(" (edited)")
	}
	switch it.Status {
	case client.StatusSending:
		fmt.Fprintf(&b, " (sending %s)", it.TempID)
	case client.StatusFailed:
		fmt.Fprintf(&b, " (failed %s: %v)", it.TempID, it.Err)
	}
	return b.String()
}

func itemKey(it client.Item) string {
	if it.Provisional() {
		return it.TempID
	}
	return it.Message.ID.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
