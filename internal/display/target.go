package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Target puts a rendered frame on the local display.
type Target interface {
	Show(frame string) error
	Close() error
}

// Writer appends each frame to w, for a serial console or a log.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (t *Writer) Show(frame string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, frame)
	return err
}

func (t *Writer) Close() error { return nil }

// None discards frames.
type None struct{}

func (None) Show(string) error { return nil }
func (None) Close() error      { return nil }

type frameMsg string

type terminalModel struct {
	frame  string
	width  int
	height int
}

func (m terminalModel) Init() tea.Cmd { return nil }

func (m terminalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.frame = string(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	}
	return m, nil
}

func (m terminalModel) View() string {
	if m.frame == "" {
		return "waiting for first reading…"
	}
	if m.width == 0 || m.height == 0 {
		return m.frame
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.frame)
}

// Terminal shows the latest frame full-screen. Pressing q calls onQuit.
type Terminal struct {
	program *tea.Program
	// frames holds at most the newest undelivered frame.
	frames chan string
	done   chan struct{}
	sent   chan struct{}
	err    error
}

func NewTerminal(ctx context.Context, onQuit func(), opts ...tea.ProgramOption) *Terminal {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	t := newTerminal(tea.NewProgram(terminalModel{}, opts...))
	go func() {
		defer close(t.done)
		_, t.err = t.program.Run()
		if onQuit != nil {
			onQuit()
		}
	}()
	go t.forward(func(frame string) { t.program.Send(frameMsg(frame)) })
	return t
}

func newTerminal(p *tea.Program) *Terminal {
	return &Terminal{
		program: p,
		frames:  make(chan string, 1),
		done:    make(chan struct{}),
		sent:    make(chan struct{}),
	}
}

// forward delivers frames in order from a single goroutine until the program
// exits.
func (t *Terminal) forward(send func(string)) {
	defer close(t.sent)
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.frames:
			send(frame)
		}
	}
}

// Show queues the frame for the UI without waiting for a redraw. A frame the
// UI has not picked up yet is replaced.
func (t *Terminal) Show(frame string) error {
	select {
	case <-t.done:
		return fmt.Errorf("terminal closed: %v", t.err)
	default:
	}
	for {
		select {
		case t.frames <- frame:
			return nil
		default:
		}
		select {
		case <-t.frames:
		default:
		}
	}
}

func (t *Terminal) Close() error {
	t.program.Quit()
	<-t.done
	<-t.sent
	if t.err != nil && !errors.Is(t.err, tea.ErrProgramKilled) {
		return t.err
	}
	return nil
}
