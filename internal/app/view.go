package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/weftui/weft/internal/tree"
)

// ViewEvent is one user interaction surfaced to the guest.
type ViewEvent struct {
	Name    string
	Payload any
	Quit    bool
}

// View displays the host tree and surfaces user input.
type View interface {
	Init() error
	Render(root *tree.Rendered)
	Events() <-chan ViewEvent
	Fini()
}

// terminalView paints the tree as indented lines on a tcell screen. It is
// a deliberately small materializer: panels box their children, labels and
// buttons are single lines, everything else prints its type.
type terminalView struct {
	mu     sync.Mutex
	screen tcell.Screen
	events chan ViewEvent
	quit   chan struct{}
	once   sync.Once
}

func newTerminalView() (*terminalView, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return &terminalView{
		screen: screen,
		events: make(chan ViewEvent, 16),
		quit:   make(chan struct{}),
	}, nil
}

func (v *terminalView) Init() error {
	if err := v.screen.Init(); err != nil {
		return err
	}
	v.screen.EnableMouse()
	go v.poll()
	return nil
}

func (v *terminalView) Events() <-chan ViewEvent {
	return v.events
}

func (v *terminalView) Fini() {
	v.once.Do(func() {
		close(v.quit)
		v.screen.Fini()
	})
}

// poll translates tcell events into view events. Escape and Ctrl-C quit.
func (v *terminalView) poll() {
	defer close(v.events)
	for {
		ev := v.screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case <-v.quit:
			return
		default:
		}

		switch tev := ev.(type) {
		case *tcell.EventKey:
			if tev.Key() == tcell.KeyEscape || tev.Key() == tcell.KeyCtrlC {
				v.events <- ViewEvent{Quit: true}
				return
			}
			v.events <- ViewEvent{Name: "key", Payload: keyPayload(tev)}
		case *tcell.EventResize:
			w, h := tev.Size()
			v.events <- ViewEvent{Name: "resize", Payload: map[string]any{
				"width": int64(w), "height": int64(h),
			}}
		case *tcell.EventMouse:
			if tev.Buttons()&tcell.Button1 != 0 {
				x, y := tev.Position()
				v.events <- ViewEvent{Name: "click", Payload: map[string]any{
					"x": int64(x), "y": int64(y),
				}}
			}
		}
	}
}

func keyPayload(ev *tcell.EventKey) map[string]any {
	p := map[string]any{"key": tcell.KeyNames[ev.Key()]}
	if ev.Key() == tcell.KeyRune {
		p["key"] = string(ev.Rune())
	}
	return p
}

func (v *terminalView) Render(root *tree.Rendered) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.screen.Clear()
	y := 0
	if root != nil {
		for _, child := range root.Children {
			y = v.paint(child, 0, y)
		}
	}
	v.screen.Show()
}

// paint draws one node and returns the next free row.
func (v *terminalView) paint(n *tree.Rendered, indent, y int) int {
	width, height := v.screen.Size()
	if y >= height {
		return y
	}

	line, style := nodeLine(n)
	v.drawText(indent*2, y, width, line, style)
	y++

	for _, child := range n.Children {
		y = v.paint(child, indent+1, y)
	}
	return y
}

func nodeLine(n *tree.Rendered) (string, tcell.Style) {
	style := tcell.StyleDefault
	if fg, ok := n.Props["fg"].(string); ok {
		style = style.Foreground(tcell.GetColor(fg))
	}
	if bg, ok := n.Props["bg"].(string); ok {
		style = style.Background(tcell.GetColor(bg))
	}

	switch n.Type {
	case "panel":
		title, _ := n.Props["title"].(string)
		return "┌ " + title, style.Bold(true)
	case "label":
		return n.Text, style
	case "button":
		label := n.Text
		if label == "" {
			label, _ = n.Props["label"].(string)
		}
		return "[ " + label + " ]", style.Reverse(true)
	case "input":
		value, _ := n.Props["value"].(string)
		return "> " + value, style.Underline(true)
	default:
		if n.Text != "" {
			return n.Text, style
		}
		return fmt.Sprintf("<%s>", n.Type), style.Dim(true)
	}
}

func (v *terminalView) drawText(x, y, maxX int, s string, style tcell.Style) {
	for _, r := range s {
		if x >= maxX {
			return
		}
		v.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

// headlessView records renders instead of painting them.
type headlessView struct {
	mu     sync.Mutex
	last   *tree.Rendered
	count  int
	events chan ViewEvent
}

func newHeadlessView() *headlessView {
	return &headlessView{events: make(chan ViewEvent)}
}

func (v *headlessView) Init() error { return nil }

func (v *headlessView) Events() <-chan ViewEvent { return v.events }

func (v *headlessView) Fini() {}

func (v *headlessView) Render(root *tree.Rendered) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = root
	v.count++
}

// Last returns the most recent render and how many happened.
func (v *headlessView) Last() (*tree.Rendered, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.count
}

// Dump flattens the last render to text, one line per node. Test helper.
func (v *headlessView) Dump() string {
	root, _ := v.Last()
	if root == nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *tree.Rendered, depth int)
	walk = func(n *tree.Rendered, depth int) {
		line, _ := nodeLine(n)
		fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", depth), line)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, c := range root.Children {
		walk(c, 0)
	}
	return b.String()
}
