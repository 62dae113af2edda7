package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/barchart"

	"github.com/jask/shelfwatch/internal/agent"
	"github.com/jask/shelfwatch/internal/camera"
	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/config"
	"github.com/jask/shelfwatch/internal/export"
	"github.com/jask/shelfwatch/internal/inventory"
	"github.com/jask/shelfwatch/internal/refstore"
	"github.com/jask/shelfwatch/internal/secrets"
	"github.com/jask/shelfwatch/internal/session"
)

// App is the operator front-end. All inventory state lives in the
// scheduler; the App holds only presentation state and pulls a fresh
// agent.State copy whenever the scheduler pings the events channel.
type App struct {
	ctx    context.Context
	sched  *agent.Scheduler
	cam    camera.Source
	cat    *catalog.Catalog
	refs   *refstore.Store
	cfg    config.Config
	events <-chan struct{}

	st        agent.State
	view      viewState
	lineIdx   int
	calibIdx  int
	refLoaded map[string]bool
	input     textinput.Model
	inputMode inputMode
	editingID string
	spin      spinner.Model
	status    string
	width     int
}

type viewState string

const (
	viewMain        viewState = "main"
	viewCalibration viewState = "calibration"
)

type inputMode string

const (
	inputNone     inputMode = ""
	inputName     inputMode = "name"
	inputUnit     inputMode = "unit"
	inputQuantity inputMode = "quantity"
	inputCommand  inputMode = "command"
	inputUpload   inputMode = "upload"
	inputAPIKey   inputMode = "apikey"
	inputInterval inputMode = "interval"
)

func New(ctx context.Context, cfg config.Config, sched *agent.Scheduler, cam camera.Source, cat *catalog.Catalog, refs *refstore.Store, events <-chan struct{}) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	ti := textinput.New()
	ti.CharLimit = 200
	a := &App{
		ctx:       ctx,
		sched:     sched,
		cam:       cam,
		cat:       cat,
		refs:      refs,
		cfg:       cfg,
		events:    events,
		view:      viewMain,
		refLoaded: map[string]bool{},
		input:     ti,
		spin:      sp,
		width:     100,
	}
	a.st = sched.State()
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForAgent(), a.loadRefFlags(), a.spin.Tick, tickCmd())
}

func (a *App) waitForAgent() tea.Cmd {
	return func() tea.Msg {
		<-a.events
		return agentEventMsg{}
	}
}

func (a *App) loadRefFlags() tea.Cmd {
	return func() tea.Msg {
		all, err := a.refs.All(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		flags := make(map[string]bool, len(all))
		for id := range all {
			flags[id] = true
		}
		return refFlagsMsg(flags)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		return a, nil
	case agentEventMsg:
		a.st = a.sched.State()
		a.clampCursors()
		return a, a.waitForAgent()
	case refFlagsMsg:
		a.refLoaded = map[string]bool(m)
		return a, nil
	case tickMsg:
		return a, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(m)
		return a, cmd
	case statusMsg:
		a.status = string(m)
		return a, nil
	case refSavedMsg:
		a.refLoaded[string(m)] = true
		a.status = "reference saved for " + string(m)
		return a, nil
	case errMsg:
		a.status = "error: " + m.Error()
		return a, nil
	case tea.KeyMsg:
		if a.inputMode != inputNone {
			return a.handleInputKey(m)
		}
		if a.view == viewCalibration {
			return a.handleCalibrationKey(m)
		}
		return a.handleMainKey(m)
	}
	return a, nil
}

func (a *App) clampCursors() {
	if a.lineIdx >= len(a.st.Lines) {
		a.lineIdx = 0
	}
}

func (a *App) handleMainKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "m":
		if a.st.Monitoring {
			a.sched.Stop()
			a.status = "monitoring stopped"
			return a, nil
		}
		return a, a.startCmd()
	case "s", "esc":
		a.sched.Stop()
		a.status = ""
		return a, nil
	case "a":
		return a, a.approveCmd()
	case "r":
		return a, a.rejectCmd()
	case "k":
		if a.st.Phase != agent.PhaseIdle {
			a.status = "calibration requires the agent to be idle"
			return a, nil
		}
		a.view = viewCalibration
		a.calibIdx = 0
		return a, a.loadRefFlags()
	case "x":
		if len(a.st.Snapshot) == 0 {
			a.status = "no snapshot to export"
			return a, nil
		}
		return a, a.exportCSVCmd(a.st.Snapshot)
	case "up":
		if a.lineIdx > 0 {
			a.lineIdx--
		}
	case "down":
		if a.lineIdx < len(a.st.Lines)-1 {
			a.lineIdx++
		}
	case "n":
		if _, err := a.sched.AddLine(); err != nil {
			a.status = err.Error()
		}
	case "d", "backspace":
		if l, ok := a.selectedLine(); ok {
			if err := a.sched.RemoveLine(l.ID); err != nil {
				a.status = err.Error()
			}
		}
	case "+", "=":
		if l, ok := a.selectedLine(); ok {
			_ = a.sched.SetQuantity(l.ID, l.Quantity+1)
		}
	case "-", "_":
		if l, ok := a.selectedLine(); ok {
			_ = a.sched.SetQuantity(l.ID, l.Quantity-1)
		}
	case "g":
		if l, ok := a.selectedLine(); ok {
			a.openInput(inputQuantity, l.ID, fmt.Sprint(l.Quantity), "quantity")
		}
	case "e":
		if l, ok := a.selectedLine(); ok {
			if !session.IsCustom(l.ID) {
				a.status = "only custom lines can be renamed"
				return a, nil
			}
			a.openInput(inputName, l.ID, l.Name, "item name")
		}
	case "u":
		if l, ok := a.selectedLine(); ok {
			if !session.IsCustom(l.ID) {
				a.status = "only custom lines can be edited"
				return a, nil
			}
			a.openInput(inputUnit, l.ID, l.Unit, "unit")
		}
	case ":", "/":
		if a.st.Phase != agent.PhaseAwaitingOrder {
			a.status = "commands apply to a pending purchase order"
			return a, nil
		}
		a.openInput(inputCommand, "", "", `e.g. "add the standard items"`)
	case "i":
		a.openInput(inputAPIKey, "", "", "Gemini API key (blank to clear)")
	case "t":
		a.openInput(inputInterval, "", fmt.Sprint(a.cfg.Agent.ScanIntervalSeconds), "scan interval, seconds")
	}
	return a, nil
}

func (a *App) handleCalibrationKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := a.cat.Items()
	switch m.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.sched.CancelCalibration()
		a.view = viewMain
		return a, nil
	case "up":
		if a.calibIdx > 0 {
			a.calibIdx--
		}
	case "down":
		if a.calibIdx < len(items)-1 {
			a.calibIdx++
		}
	case "enter", "c":
		it := items[a.calibIdx]
		if err := a.sched.StartCalibration(it.ID); err != nil {
			a.status = err.Error()
			return a, nil
		}
		return a, a.captureReferenceCmd(it.ID)
	case "u":
		it := items[a.calibIdx]
		if err := a.sched.StartCalibration(it.ID); err != nil {
			a.status = err.Error()
			return a, nil
		}
		a.openInput(inputUpload, it.ID, "", "path to JPG/PNG/WEBP")
	}
	return a, nil
}

func (a *App) openInput(mode inputMode, id, value, placeholder string) {
	a.inputMode = mode
	a.editingID = id
	a.input.Placeholder = placeholder
	a.input.SetValue(value)
	a.input.CursorEnd()
	a.input.Focus()
}

func (a *App) closeInput() {
	a.inputMode = inputNone
	a.editingID = ""
	a.input.Blur()
	a.input.SetValue("")
}

func (a *App) handleInputKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.Type {
	case tea.KeyEsc:
		if a.inputMode == inputUpload {
			a.sched.CancelCalibration()
		}
		a.closeInput()
		return a, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(a.input.Value())
		mode, id := a.inputMode, a.editingID
		a.closeInput()
		return a, a.submitInput(mode, id, text)
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(m)
	return a, cmd
}

func (a *App) submitInput(mode inputMode, id, text string) tea.Cmd {
	switch mode {
	case inputName:
		if err := a.sched.RenameLine(id, "name", text); err != nil {
			return errCmd(err)
		}
	case inputUnit:
		if err := a.sched.RenameLine(id, "unit", text); err != nil {
			return errCmd(err)
		}
	case inputQuantity:
		n, err := parsePositiveInt(text)
		if err != nil {
			return errCmd(err)
		}
		if err := a.sched.SetQuantity(id, n); err != nil {
			return errCmd(err)
		}
	case inputCommand:
		if text == "" {
			return nil
		}
		if err := a.sched.SubmitCommand(text); err != nil {
			return errCmd(err)
		}
		return statusCmd("processing command...")
	case inputUpload:
		if text == "" {
			a.sched.CancelCalibration()
			return nil
		}
		return a.uploadReferenceCmd(id, text)
	case inputAPIKey:
		if text == "" {
			if err := secrets.DeleteAPIKey(); err != nil {
				return errCmd(err)
			}
			return statusCmd("stored API key removed; restart to apply")
		}
		if err := secrets.StoreAPIKey(text); err != nil {
			return errCmd(err)
		}
		return statusCmd("API key stored; restart to apply")
	case inputInterval:
		n, err := parsePositiveInt(text)
		if err != nil {
			return errCmd(err)
		}
		if n == 0 {
			return errCmd(fmt.Errorf("interval must be at least 1 second"))
		}
		a.cfg.Agent.ScanIntervalSeconds = n
		if err := config.Save(a.cfg); err != nil {
			return errCmd(err)
		}
		return statusCmd("config saved; restart to apply")
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// commands

func (a *App) startCmd() tea.Cmd {
	return func() tea.Msg {
		if err := a.sched.StartMonitoring(); err != nil {
			return errMsg{err}
		}
		return statusMsg("monitoring started")
	}
}

func (a *App) approveCmd() tea.Cmd {
	st := a.st
	return func() tea.Msg {
		if err := a.sched.Approve(); err != nil {
			return errMsg{err}
		}
		if st.Phase != agent.PhaseAwaitingOrder {
			return statusMsg("promotion approved and sent to POS channels")
		}
		now := time.Now()
		po := export.PONumber(now)
		pdf, err := export.OrderPDF(st.Lines, po, now)
		if err != nil {
			return errMsg{err}
		}
		dir, err := exportDir()
		if err != nil {
			return errMsg{err}
		}
		pdfPath := filepath.Join(dir, "PurchaseOrder-"+po+".pdf")
		if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
			return errMsg{err}
		}
		subject, body := export.SupplierEmail(po, now)
		mailPath := filepath.Join(dir, "PurchaseOrder-"+po+".email.txt")
		if err := os.WriteFile(mailPath, []byte("Subject: "+subject+"\n\n"+body), 0o644); err != nil {
			return errMsg{err}
		}
		return statusMsg("order approved; PDF and e-mail draft written to " + dir)
	}
}

func (a *App) rejectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := a.sched.Reject(); err != nil {
			return errMsg{err}
		}
		return statusMsg("rejected")
	}
}

func (a *App) exportCSVCmd(snap inventory.Snapshot) tea.Cmd {
	return func() tea.Msg {
		data, err := export.SnapshotCSV(snap)
		if err != nil {
			return errMsg{err}
		}
		dir, err := exportDir()
		if err != nil {
			return errMsg{err}
		}
		path := filepath.Join(dir, "inventory-scan-"+time.Now().Format("2006-01-02")+".csv")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errMsg{err}
		}
		return statusMsg("snapshot written to " + path)
	}
}

func (a *App) captureReferenceCmd(itemID string) tea.Cmd {
	return func() tea.Msg {
		frame, err := a.cam.Capture(a.ctx)
		if err != nil {
			a.sched.CancelCalibration()
			return errMsg{err}
		}
		if len(frame) == 0 {
			a.sched.CancelCalibration()
			return errMsg{fmt.Errorf("no frame available; is the camera daemon running?")}
		}
		if err := a.sched.SubmitReference(a.ctx, itemID, frame); err != nil {
			return errMsg{err}
		}
		return refSavedMsg(itemID)
	}
}

func (a *App) uploadReferenceCmd(itemID, path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			a.sched.CancelCalibration()
			return errMsg{err}
		}
		if err := a.sched.SubmitReference(a.ctx, itemID, data); err != nil {
			a.sched.CancelCalibration()
			return errMsg{err}
		}
		return refSavedMsg(itemID)
	}
}

func exportDir() (string, error) {
	dir := filepath.Join(os.Getenv("HOME"), "shelfwatch-exports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (a *App) selectedLine() (inventory.StockItem, bool) {
	if a.st.Phase != agent.PhaseAwaitingOrder {
		return inventory.StockItem{}, false
	}
	if a.lineIdx < 0 || a.lineIdx >= len(a.st.Lines) {
		return inventory.StockItem{}, false
	}
	return a.st.Lines[a.lineIdx], true
}

func errCmd(err error) tea.Cmd {
	return func() tea.Msg { return errMsg{err} }
}

func statusCmd(s string) tea.Cmd {
	return func() tea.Msg { return statusMsg(s) }
}

// rendering

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" SHELFWATCH ") + "  autonomous inventory agent\n\n")
	if a.view == viewCalibration {
		b.WriteString(a.renderCalibration())
	} else {
		b.WriteString(a.renderStatusLine())
		b.WriteString("\n")
		b.WriteString(a.renderInventory())
		b.WriteString(a.renderSession())
	}
	if a.inputMode != inputNone {
		b.WriteString("\n" + inputStyle.Render("> "+a.input.View()) + "\n")
	}
	if a.status != "" {
		b.WriteString("\n" + statusStyle.Render(a.status) + "\n")
	}
	b.WriteString("\n" + a.renderHints())
	return b.String()
}

func (a *App) renderStatusLine() string {
	phase := string(a.st.Phase)
	var line string
	switch {
	case a.st.Phase == agent.PhaseIdle:
		line = "● idle"
	case a.st.Phase == agent.PhaseCapturing, a.st.Phase == agent.PhaseCounting,
		a.st.Phase == agent.PhaseDeciding, a.st.Phase == agent.PhaseRenderingPromo:
		line = a.spin.View() + " " + phase
	case a.st.Phase == agent.PhaseError:
		line = errStyle.Render("✗ " + a.st.ErrorMessage)
	default:
		line = "● " + phase
	}
	if a.st.Monitoring && !a.st.NextScan.IsZero() {
		if left := time.Until(a.st.NextScan).Round(time.Second); left > 0 {
			line += dimStyle.Render(fmt.Sprintf("  next scan in %s", left))
		}
	}
	return line + "\n"
}

func (a *App) renderInventory() string {
	if len(a.st.Snapshot) == 0 {
		return dimStyle.Render("no scan yet") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("CURRENT STOCK") + "\n")
	b.WriteString(a.renderStockChart())
	for _, it := range a.st.Snapshot {
		target := 0
		if c, ok := a.cat.Get(it.ID); ok {
			target = c.Target
		}
		marker := "  "
		switch {
		case it.Quantity == 0:
			marker = errStyle.Render("!!")
		case target > 0 && it.Quantity >= target+2:
			marker = warnStyle.Render("++")
		case target > 0 && it.Quantity < target:
			marker = warnStyle.Render(" -")
		}
		b.WriteString(fmt.Sprintf(" %s %-24s %3d / %d %s\n", marker, it.Name, it.Quantity, target, it.Unit))
	}
	return b.String()
}

func (a *App) renderStockChart() string {
	w := a.width - 4
	if w < 30 {
		w = 30
	}
	bc := barchart.New(w, 6)
	for _, it := range a.st.Snapshot {
		target := 0
		if c, ok := a.cat.Get(it.ID); ok {
			target = c.Target
		}
		style := okStyle
		if target > 0 && it.Quantity < target {
			style = warnStyle
		}
		if it.Quantity == 0 {
			style = errStyle
		}
		bc.Push(barchart.BarData{
			Label: shortLabel(it.Name),
			Values: []barchart.BarValue{
				{Name: it.ID, Value: float64(it.Quantity), Style: style},
			},
		})
	}
	bc.Draw()
	return bc.View() + "\n"
}

func shortLabel(name string) string {
	r := []rune(name)
	if len(r) > 10 {
		return string(r[:10])
	}
	return name
}

func (a *App) renderSession() string {
	var b strings.Builder
	if a.st.Reasoning != "" {
		b.WriteString("\n" + headerStyle.Render("AGENT") + "\n " + wrap(a.st.Reasoning, a.width-2) + "\n")
	}
	switch a.st.Phase {
	case agent.PhaseAwaitingOrder:
		if len(a.st.Lines) == 0 {
			b.WriteString("\n" + okStyle.Render("✓ shelf is optimally stocked") + "\n")
			break
		}
		b.WriteString("\n" + headerStyle.Render("PURCHASE ORDER - awaiting approval") + "\n")
		for i, l := range a.st.Lines {
			cursor := "  "
			if i == a.lineIdx {
				cursor = "▶ "
			}
			tag := ""
			if session.IsCustom(l.ID) {
				tag = dimStyle.Render(" (custom)")
			}
			b.WriteString(fmt.Sprintf(" %s%-24s %4d %s%s\n", cursor, l.Name, l.Quantity, l.Unit, tag))
		}
	case agent.PhaseAwaitingPromotion:
		if p := a.st.Promotion; p != nil {
			b.WriteString("\n" + headerStyle.Render("PROMOTION - awaiting approval") + "\n")
			b.WriteString(fmt.Sprintf(" %s  (%s)\n", p.PromotionName, p.ProductName))
			b.WriteString(" " + wrap(p.RecommendedPromotion, a.width-2) + "\n")
			if p.FinancialImpact != 0 {
				b.WriteString(dimStyle.Render(fmt.Sprintf(" est. impact $%.2f", p.FinancialImpact)) + "\n")
			}
			if len(a.st.PromotionImage) > 0 {
				b.WriteString(dimStyle.Render(fmt.Sprintf(" poster rendered (%d bytes)", len(a.st.PromotionImage))) + "\n")
			}
		}
	case agent.PhaseApproved:
		b.WriteString("\n" + okStyle.Render("✓ approved") + "\n")
	case agent.PhaseRejected:
		b.WriteString("\n" + dimStyle.Render("rejected") + "\n")
	}
	return b.String()
}

func (a *App) renderCalibration() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("CALIBRATION") + "\n")
	b.WriteString(dimStyle.Render(" teach the agent what one unit of each product looks like") + "\n\n")
	for i, it := range a.cat.Items() {
		cursor := "  "
		if i == a.calibIdx {
			cursor = "▶ "
		}
		state := errStyle.Render("missing")
		if a.refLoaded[it.ID] {
			state = okStyle.Render("ready")
		}
		b.WriteString(fmt.Sprintf(" %s%-24s %s\n", cursor, it.Name, state))
	}
	return b.String()
}

func (a *App) renderHints() string {
	if a.inputMode != inputNone {
		return hintStyle.Render("[enter] Save  [esc] Cancel")
	}
	if a.view == viewCalibration {
		return hintStyle.Render("[↑/↓] Select  [enter] Capture  [u] Upload file  [esc] Back  [q] Quit")
	}
	switch a.st.Phase {
	case agent.PhaseAwaitingOrder:
		return hintStyle.Render("[a] Approve  [r] Reject  [↑/↓] Select  [+/-] Qty  [g] Set qty  [n] Add  [d] Remove  [e] Name  [u] Unit  [:] Command  [q] Quit")
	case agent.PhaseAwaitingPromotion:
		return hintStyle.Render("[a] Approve  [r] Reject  [q] Quit")
	case agent.PhaseError, agent.PhaseApproved, agent.PhaseRejected:
		return hintStyle.Render("[m] Start monitoring  [s] Reset  [x] Export CSV  [k] Calibrate  [i] API key  [t] Interval  [q] Quit")
	case agent.PhaseIdle:
		return hintStyle.Render("[m] Start monitoring  [x] Export CSV  [k] Calibrate  [i] API key  [t] Interval  [q] Quit")
	default:
		return hintStyle.Render("[s] Stop  [q] Quit")
	}
}

func wrap(s string, width int) string {
	if width < 20 {
		width = 20
	}
	words := strings.Fields(s)
	var b strings.Builder
	line := 0
	for i, w := range words {
		if i > 0 {
			if line+1+len(w) > width {
				b.WriteString("\n ")
				line = 0
			} else {
				b.WriteString(" ")
				line++
			}
		}
		b.WriteString(w)
		line += len(w)
	}
	return b.String()
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	inputStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// messages

type agentEventMsg struct{}

type tickMsg time.Time

type statusMsg string

type errMsg struct{ error }

type refFlagsMsg map[string]bool

type refSavedMsg string
