// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ploverline/slipway/pkg/harness"
	"github.com/ploverline/slipway/pkg/transport"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI view of both channels",
	Long: `Watch the diagnostic and command channels side by side in a terminal UI.

The monitor is read-only: it never writes to the device and never touches
DTR, so it is safe to leave attached while the target runs.

Press 'q' to quit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// Keep roughly this much text per pane; older output scrolls away.
const monitorPaneMax = 64 * 1024

type monitorDataMsg struct {
	channel string
	text    string
}

type monitorModel struct {
	info     string
	diagPane viewport.Model
	cmdPane  viewport.Model
	diagText string
	cmdText  string
	ready    bool
	width    int
	height   int
	quitting bool
}

func initialMonitorModel(info string) monitorModel {
	return monitorModel{info: info, width: 80, height: 24}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		paneHeight := (m.height - 6) / 2
		if paneHeight < 3 {
			paneHeight = 3
		}
		if !m.ready {
			m.diagPane = viewport.New(m.width-4, paneHeight)
			m.cmdPane = viewport.New(m.width-4, paneHeight)
			m.ready = true
		} else {
			m.diagPane.Width = m.width - 4
			m.diagPane.Height = paneHeight
			m.cmdPane.Width = m.width - 4
			m.cmdPane.Height = paneHeight
		}
		m.diagPane.SetContent(m.diagText)
		m.cmdPane.SetContent(m.cmdText)

	case monitorDataMsg:
		text := harness.StripANSI(msg.text)
		if msg.channel == chanDiag {
			m.diagText = trimPane(m.diagText + text)
			if m.ready {
				m.diagPane.SetContent(m.diagText)
				m.diagPane.GotoBottom()
			}
		} else {
			m.cmdText = trimPane(m.cmdText + text)
			if m.ready {
				m.cmdPane.SetContent(m.cmdText)
				m.cmdPane.GotoBottom()
			}
		}
	}

	return m, nil
}

func trimPane(s string) string {
	if len(s) > monitorPaneMax {
		return s[len(s)-monitorPaneMax/2:]
	}
	return s
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	if !m.ready {
		return "Starting monitor..."
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	header := titleStyle.Render("SLIPWAY - CHANNEL MONITOR") + "\n" +
		lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(m.info+" | Press 'q' to quit")

	return header + "\n" +
		labelStyle.Render(chanDiag) + "\n" +
		boxStyle.Render(m.diagPane.View()) + "\n" +
		labelStyle.Render(chanCmd) + "\n" +
		boxStyle.Render(m.cmdPane.View())
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var u0 transport.Port
	if !noUART0 {
		var err error
		u0, err = transport.OpenSerial(uart0Device, uart0Baud, 200*time.Millisecond)
		if err != nil {
			return err
		}
		defer u0.Close()
	}

	var u3 transport.Port
	var cmdInfo string
	if !noUART3 {
		var err error
		u3, cmdInfo, err = openCommandPort(200 * time.Millisecond)
		if err != nil {
			return err
		}
		defer u3.Close()
	}

	if u0 == nil && u3 == nil {
		return fmt.Errorf("nothing to monitor: both channels disabled")
	}

	info := cmdInfo
	if u0 != nil {
		info = fmt.Sprintf("%s: %s @ %d", chanDiag, uart0Device, uart0Baud)
		if cmdInfo != "" {
			info += " | " + cmdInfo
		}
	}

	sink := harness.NewSink(1024)
	errs := &harness.ErrorList{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	startReader := func(spec transport.Spec, port transport.Port) {
		reader := &harness.Reader{
			Spec: spec,
			Open: func() (transport.Port, error) { return sharedPort{port}, nil },
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader.Run(sink, errs, stop)
		}()
	}
	if u0 != nil {
		startReader(diagSpec(), u0)
	}
	if u3 != nil {
		startReader(cmdSpec(), u3)
	}

	p := tea.NewProgram(initialMonitorModel(info), tea.WithAltScreen())

	go func() {
		for {
			if it, ok := sink.Next(200 * time.Millisecond); ok {
				p.Send(monitorDataMsg{channel: it.Channel, text: string(it.Data)})
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	_, err := p.Run()
	close(stop)
	waitTimeout(&wg, time.Second)

	for _, msg := range errs.All() {
		fmt.Fprintf(os.Stderr, "channel error: %s\n", msg)
	}

	return err
}
