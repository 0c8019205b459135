package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer shows build progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newBuildModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The program runs until Complete or Stop.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(e ProgressEvent) {
	r.tracker.Apply(e)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(e ErrorEvent) {
	r.tracker.AddError(e)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(s))
	}
}

// Stop implements Renderer. It waits up to two seconds for the program.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	r.cancel()
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

type buildModel struct {
	tracker  *ProgressTracker
	title    string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	complete bool
	stats    CompletionStats
	quitting bool
}

func newBuildModel(tracker *ProgressTracker, title string, styles Styles) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active
	return &buildModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.viewComplete()
	}

	st := m.tracker.Stats()
	width := max(m.width-4, 40)
	lines := []string{m.viewStages(st.Stage), m.styles.Border.Render(strings.Repeat("─", width))}

	if st.Total == 0 {
		lines = append(lines, fmt.Sprintf("%s %s...", m.spinner.View(), st.Stage))
	} else {
		lines = append(lines,
			fmt.Sprintf("%s  %s", m.bar.ViewAs(st.Progress), m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Progress*100))),
			m.styles.Label.Render(fmt.Sprintf("%d / %d frames  •  %.0f/s", st.Current, st.Total, st.Rate)),
		)
		if st.ETA > 0 {
			lines = append(lines, m.styles.Label.Render("ETA: "+FormatDuration(st.ETA)))
		}
	}
	if st.Frame != "" {
		lines = append(lines, m.styles.Dim.Render(truncate(st.Frame, width-2)))
	}

	title := "FrameScope index build"
	if m.title != "" {
		title += " • " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(lines, "\n")),
		m.viewStatus(st),
	)
}

func (m *buildModel) viewStages(current Stage) string {
	parts := make([]string, 0, 4)
	for _, s := range []Stage{StageLoading, StageEmbedding, StageIndexing, StageSaving} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) viewStatus(st ProgressStats) string {
	var parts []string
	if st.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", st.Warnings)))
	}
	if st.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", st.Errors)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) viewComplete() string {
	s := m.stats
	lines := []string{
		m.styles.Success.Render("✓ Index built"),
		"",
		fmt.Sprintf("%s   %s", m.styles.Label.Render("Frames:"), m.styles.Active.Render(fmt.Sprint(s.Frames))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Vectors:"), m.styles.Active.Render(fmt.Sprint(s.Vectors))),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"), m.styles.Active.Render(FormatDuration(s.Duration))),
	}
	if s.Backend != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", m.styles.Label.Render("Backend:"),
			fmt.Sprintf("%s (%s, %d dims)", s.Backend, s.Model, s.Dimensions)))
	}
	if s.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d frames skipped", s.Skipped)))
	}
	if s.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

// FormatDuration renders d as "42s", "3m 5s" or "1h 2m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncate keeps the tail of s within n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return "..."
	}
	return "..." + string(r[len(r)-n+3:])
}

var _ Renderer = (*TUIRenderer)(nil)
