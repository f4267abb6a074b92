// Package hmi is the terminal monitor for long studies: a live table of
// pipeline task states driven by progress events, so an operator can watch
// a run without tailing logs.
package hmi

import (
	"sync"

	"github.com/gdamore/tcell"
	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/pipeline"
	"github.com/rivo/tview"
)

// Monitor renders one run's task table.
type Monitor struct {
	mux   *sync.Mutex
	inbox <-chan msg.Msg
	pid   uuid.UUID
	stop  chan bool

	app   *tview.Application
	table *tview.Table
	order []string
	rows  map[string]pipeline.Event
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
	close(chOut)
}

// New subscribes a monitor to the run's progress events.
func New(system msg.Publisher) (*Monitor, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	inbox := make(chan msg.Msg, 50)
	chProgress, err := system.Subscribe(pid, msg.Progress)
	if err != nil {
		return nil, err
	}
	go redirectMsg(chProgress, inbox)

	m := &Monitor{
		mux:   &sync.Mutex{},
		inbox: inbox,
		pid:   pid,
		stop:  make(chan bool),
		app:   tview.NewApplication(),
		table: tview.NewTable().SetFixed(1, 0),
		order: make([]string, 0, 8),
		rows:  make(map[string]pipeline.Event),
	}
	m.table.SetBorder(true).SetTitle(" GridFlow ")
	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' {
			m.app.Stop()
			return nil
		}
		return event
	})
	m.render()
	return m, nil
}

func (m *Monitor) PID() uuid.UUID {
	return m.pid
}

func stateColor(state string) tcell.Color {
	switch state {
	case pipeline.StateRunning:
		return tcell.ColorYellow
	case pipeline.StateDone:
		return tcell.ColorGreen
	case pipeline.StateFailed:
		return tcell.ColorRed
	case pipeline.StateSkipped:
		return tcell.ColorGray
	default:
		return tcell.ColorWhite
	}
}

// handle folds one event into the table.
func (m *Monitor) handle(ev pipeline.Event) {
	m.mux.Lock()
	if _, seen := m.rows[ev.Task]; !seen {
		m.order = append(m.order, ev.Task)
	}
	m.rows[ev.Task] = ev
	m.mux.Unlock()

	m.render()
}

func (m *Monitor) render() {
	m.mux.Lock()
	defer m.mux.Unlock()

	for column, name := range []string{"TASK", "STATE", "DETAIL"} {
		m.table.SetCell(0, column, tview.NewTableCell(name).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignLeft).
			SetSelectable(false))
	}

	for i, taskName := range m.order {
		ev := m.rows[taskName]
		color := stateColor(ev.State)
		m.table.SetCell(i+1, 0, tview.NewTableCell(ev.Task).SetTextColor(tcell.ColorDarkCyan))
		m.table.SetCell(i+1, 1, tview.NewTableCell(ev.State).SetTextColor(color))
		m.table.SetCell(i+1, 2, tview.NewTableCell(ev.Detail).SetTextColor(tcell.ColorWhite))
		if ev.Scenario != "" {
			m.table.SetTitle(" GridFlow " + ev.Scenario + "  (q to quit) ")
		}
	}
}

// Process folds progress events into the table until the run closes the
// bus or the monitor is stopped. The table stays on screen afterwards.
func (m *Monitor) Process() {
loop:
	for {
		select {
		case in, ok := <-m.inbox:
			if !ok {
				break loop
			}
			if ev, valid := in.Payload().(pipeline.Event); valid {
				m.handle(ev)
				m.app.Draw()
			}

		case <-m.stop:
			break loop
		}
	}
}

// Run blocks on the terminal UI until the operator quits.
func (m *Monitor) Run() error {
	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.table, 0, 1, true)
	return m.app.SetRoot(layout, true).Run()
}

// Stop tears the monitor down.
func (m *Monitor) Stop() {
	select {
	case m.stop <- true:
	default:
	}
	m.app.Stop()
}
