// Package agent owns the monitoring loop: one analysis cycle at a time,
// a repeat timer between cycles, and the operator actions that may
// interrupt either at any point.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jask/shelfwatch/internal/camera"
	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/inventory"
	"github.com/jask/shelfwatch/internal/refstore"
	"github.com/jask/shelfwatch/internal/session"
	"github.com/jask/shelfwatch/internal/vision"
)

// Phase is the scheduler's state-machine variable.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseCapturing         Phase = "capturing"
	PhaseCounting          Phase = "counting"
	PhaseDeciding          Phase = "deciding"
	PhaseRenderingPromo    Phase = "renderingPromo"
	PhaseAwaitingOrder     Phase = "awaitingOrder"
	PhaseAwaitingPromotion Phase = "awaitingPromotion"
	PhaseApproved          Phase = "approved"
	PhaseRejected          Phase = "rejected"
	PhaseError             Phase = "error"
)

// inFlight reports whether a pipeline is currently running for p.
func inFlight(p Phase) bool {
	switch p {
	case PhaseCapturing, PhaseCounting, PhaseDeciding, PhaseRenderingPromo:
		return true
	}
	return false
}

func terminal(p Phase) bool {
	switch p {
	case PhaseApproved, PhaseRejected, PhaseError:
		return true
	}
	return false
}

// Config carries the loop timings. Both have original defaults.
type Config struct {
	Interval     time.Duration // delay between successful cycles
	CaptureRetry time.Duration // delay before re-attempting a failed capture
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.CaptureRetry <= 0 {
		c.CaptureRetry = 5 * time.Second
	}
	return c
}

var (
	ErrBusy          = errors.New("a cycle is already in flight")
	ErrNotAwaiting   = errors.New("no order or promotion is awaiting approval")
	ErrNotIdle       = errors.New("calibration requires the agent to be idle")
	ErrUnknownItem   = errors.New("unknown catalog item")
	ErrBadImageType  = errors.New("invalid image type; use JPG, PNG, or WEBP")
	ErrNoReferences  = errors.New("no calibrated reference images")
	ErrCommandBusy   = errors.New("a command is already being processed")
	ErrNotEditing    = errors.New("order lines can only be edited while awaiting approval")
	ErrInCalibration = errors.New("finish or cancel calibration first")
)

// Scheduler drives capture -> count -> decide -> (image) and holds the
// per-cycle session. All fields behind mu; the pipeline goroutine only
// touches state through fenced helpers, so a result from a stopped
// cycle can never land in a newer one.
type Scheduler struct {
	cam      camera.Source
	provider vision.Provider
	cat      *catalog.Catalog
	refs     *refstore.Store
	cfg      Config

	// notify pings the presentation layer after observable changes. It
	// runs with mu held and must not call back into the Scheduler.
	notify func()

	mu          sync.Mutex
	phase       Phase
	monitoring  bool
	cycle       uint64
	cancel      context.CancelFunc
	timer       *time.Timer
	nextScan    time.Time
	sess        *session.Session
	rateLimited bool
	calibrating string
	commandBusy bool
	cmdSeq      uint64
	cmdCancel   context.CancelFunc
}

func New(cam camera.Source, provider vision.Provider, cat *catalog.Catalog, refs *refstore.Store, cfg Config, notify func()) *Scheduler {
	if notify == nil {
		notify = func() {}
	}
	return &Scheduler{
		cam:      cam,
		provider: provider,
		cat:      cat,
		refs:     refs,
		cfg:      cfg.withDefaults(),
		notify:   notify,
		phase:    PhaseIdle,
		sess:     session.New(),
	}
}

// State is a read-only copy of everything the presentation layer needs.
type State struct {
	Phase          Phase
	Monitoring     bool
	Cycle          uint64
	NextScan       time.Time
	Snapshot       inventory.Snapshot
	Lines          []inventory.StockItem
	Promotion      *inventory.Promotion
	PromotionImage []byte
	Reasoning      string
	ErrorMessage   string
	RateLimited    bool
	Calibrating    string
	CommandBusy    bool
}

func (st State) Awaiting() bool {
	return st.Phase == PhaseAwaitingOrder || st.Phase == PhaseAwaitingPromotion
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Phase:          s.phase,
		Monitoring:     s.monitoring,
		Cycle:          s.cycle,
		NextScan:       s.nextScan,
		Snapshot:       append(inventory.Snapshot(nil), s.sess.Snapshot...),
		Lines:          append([]inventory.StockItem(nil), s.sess.Lines...),
		PromotionImage: s.sess.PromotionImage,
		Reasoning:      s.sess.Reasoning,
		ErrorMessage:   s.sess.ErrorMessage,
		RateLimited:    s.rateLimited,
		Calibrating:    s.calibrating,
		CommandBusy:    s.commandBusy,
	}
	if s.sess.Promotion != nil {
		p := *s.sess.Promotion
		st.Promotion = &p
	}
	return st
}

// StartMonitoring begins a fresh cycle and arms the unattended loop.
// Valid from Idle and from any terminal phase; the previous session is
// discarded entirely so no state bleeds across cycles.
func (s *Scheduler) StartMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inFlight(s.phase) || s.phase == PhaseAwaitingOrder || s.phase == PhaseAwaitingPromotion {
		return ErrBusy
	}
	if s.calibrating != "" {
		return ErrInCalibration
	}
	s.monitoring = true
	s.resetSessionLocked()
	s.beginCycleLocked()
	return nil
}

// Stop cancels the pending timer, the in-flight pipeline and any
// running command, discards the session, and returns to Idle. Valid
// from every phase; from a terminal phase it is the "start over" reset.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++ // fence: anything still in flight is now stale
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopTimerLocked()
	s.monitoring = false
	s.calibrating = ""
	s.resetSessionLocked()
	s.phase = PhaseIdle
	s.notify()
}

// Approve accepts the pending order or promotion and halts the loop.
func (s *Scheduler) Approve() error {
	return s.conclude(PhaseApproved)
}

// Reject declines the pending order or promotion and halts the loop.
func (s *Scheduler) Reject() error {
	return s.conclude(PhaseRejected)
}

func (s *Scheduler) conclude(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseAwaitingOrder:
		if len(s.sess.Lines) == 0 {
			return ErrNotAwaiting
		}
	case PhaseAwaitingPromotion:
		if s.sess.Promotion == nil {
			return ErrNotAwaiting
		}
	default:
		return ErrNotAwaiting
	}
	s.stopTimerLocked()
	s.monitoring = false
	s.cancelCommandLocked()
	s.phase = to
	s.notify()
	return nil
}

// cancelCommandLocked aborts any in-flight classification and clears
// the busy flag; the completion goroutine sees a bumped cmdSeq and
// leaves scheduler state alone.
func (s *Scheduler) cancelCommandLocked() {
	s.cmdSeq++
	if s.cmdCancel != nil {
		s.cmdCancel()
		s.cmdCancel = nil
	}
	s.commandBusy = false
}

// --- order-line mutations, gated on AwaitingOrder -------------------

func (s *Scheduler) AddLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingOrder {
		return "", ErrNotEditing
	}
	id := s.sess.AddCustomLine()
	s.notify()
	return id, nil
}

func (s *Scheduler) RemoveLine(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingOrder {
		return ErrNotEditing
	}
	if !s.sess.RemoveLine(id) {
		return fmt.Errorf("no line with id %s", id)
	}
	s.notify()
	return nil
}

func (s *Scheduler) SetQuantity(id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingOrder {
		return ErrNotEditing
	}
	if !s.sess.SetQuantity(id, n) {
		return fmt.Errorf("no line with id %s", id)
	}
	s.notify()
	return nil
}

func (s *Scheduler) RenameLine(id, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingOrder {
		return ErrNotEditing
	}
	if err := s.sess.RenameLine(id, field, value); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SubmitCommand classifies a free-text command and, on an "add items"
// intent, appends the standard supplier list to the order. The remote
// call runs off the lock with its own cancel, separate from the cycle
// pipeline's: the busy flag belongs to the command, so the completion
// always clears it even when the session has moved on and the result
// itself is dropped.
func (s *Scheduler) SubmitCommand(text string) error {
	s.mu.Lock()
	if s.phase != PhaseAwaitingOrder {
		s.mu.Unlock()
		return ErrNotEditing
	}
	if s.commandBusy {
		s.mu.Unlock()
		return ErrCommandBusy
	}
	s.commandBusy = true
	s.cmdSeq++
	cid := s.cmdSeq
	id := s.cycle
	ctx, cancel := context.WithCancel(context.Background())
	s.cmdCancel = cancel
	s.notify()
	s.mu.Unlock()

	go func() {
		defer cancel()
		add, err := s.provider.ClassifyIntent(ctx, text)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cmdSeq != cid {
			return // cancelled; Stop or conclude already cleaned up
		}
		s.commandBusy = false
		s.cmdCancel = nil
		if s.cycle != id || s.phase != PhaseAwaitingOrder {
			s.notify()
			return // session moved on; drop the result
		}
		switch {
		case err != nil:
			s.sess.AppendNote("Could not process the command: " + err.Error())
		case add:
			n := s.sess.AppendStandardItems(catalog.StandardItems(), session.DefaultQuantity)
			if n > 0 {
				s.sess.AppendNote(fmt.Sprintf("AI added %d standard item(s) based on your request.", n))
			} else {
				s.sess.AppendNote("AI determined the requested items are already in the order.")
			}
		default:
			s.sess.AppendNote("AI did not detect a request to add new items.")
		}
		s.notify()
	}()
	return nil
}

// --- calibration, mutually exclusive with an active cycle -----------

func (s *Scheduler) StartCalibration(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return ErrNotIdle
	}
	if !s.cat.Has(itemID) {
		return ErrUnknownItem
	}
	s.calibrating = itemID
	s.notify()
	return nil
}

func (s *Scheduler) CancelCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrating = ""
	s.notify()
}

// SubmitReference validates and persists a calibration image for an
// item, overwriting any prior reference.
func (s *Scheduler) SubmitReference(ctx context.Context, itemID string, data []byte) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	if !s.cat.Has(itemID) {
		s.mu.Unlock()
		return ErrUnknownItem
	}
	s.mu.Unlock()

	mime := http.DetectContentType(data)
	switch mime {
	case "image/jpeg", "image/png", "image/webp":
	default:
		return ErrBadImageType
	}
	if err := s.refs.Set(ctx, itemID, mime, data); err != nil {
		return err
	}

	s.mu.Lock()
	if s.calibrating == itemID {
		s.calibrating = ""
	}
	s.notify()
	s.mu.Unlock()
	return nil
}

// --- cycle pipeline --------------------------------------------------

func (s *Scheduler) resetSessionLocked() {
	s.cancelCommandLocked()
	s.sess = session.New()
	s.rateLimited = false
	s.nextScan = time.Time{}
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextScan = time.Time{}
}

func (s *Scheduler) beginCycleLocked() {
	s.cycle++
	id := s.cycle
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.phase = PhaseCapturing
	s.notify()
	go s.runCycle(ctx, id)
}

// runCycle executes one full pipeline. Every state change goes through
// a fenced helper: if the cycle id no longer matches, the result is
// discarded and the goroutine exits quietly.
func (s *Scheduler) runCycle(ctx context.Context, id uint64) {
	frame, ok := s.captureWithRetry(ctx, id)
	if !ok {
		return
	}
	if !s.advance(id, PhaseCounting) {
		return
	}

	refs, err := s.eligibleReferences(ctx)
	if err != nil {
		s.fail(id, err)
		return
	}
	if len(refs) == 0 {
		s.fail(id, ErrNoReferences)
		return
	}

	counted, err := s.provider.CountInventory(ctx, frame, refs)
	if err != nil {
		s.fail(id, err)
		return
	}
	snap := inventory.Reconcile(counted, s.cat)
	if !s.applySnapshot(id, snap) {
		return
	}

	raw, err := s.provider.DecideAction(ctx, s.stockLevels(snap))
	if err != nil {
		s.fail(id, err)
		return
	}
	dec, err := inventory.ValidateDecision(raw, snap, s.cat)
	if err != nil {
		s.fail(id, err)
		return
	}

	if dec.Kind == inventory.PromoKind {
		if !s.applyPromotion(id, dec) {
			return
		}
		img, err := s.provider.GenerateImage(ctx, dec.Promotion.ImagePrompt)
		if err != nil {
			s.fail(id, err)
			return
		}
		s.finishPromotion(id, img)
		return
	}
	s.finishOrder(id, dec)
}

// captureWithRetry loops on the device until a frame arrives. Device
// failures are local: they never change phase and never count as a
// remote-call failure. Only cancellation breaks the loop.
func (s *Scheduler) captureWithRetry(ctx context.Context, id uint64) ([]byte, bool) {
	for {
		frame, err := s.cam.Capture(ctx)
		if err == nil && len(frame) > 0 {
			return frame, true
		}
		if err != nil && ctx.Err() != nil {
			return nil, false
		}
		if err != nil {
			log.Printf("capture failed, retrying in %s: %v", s.cfg.CaptureRetry, err)
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(s.cfg.CaptureRetry):
		}
		if !s.current(id) {
			return nil, false
		}
	}
}

func (s *Scheduler) eligibleReferences(ctx context.Context) ([]vision.Reference, error) {
	stored, err := s.refs.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []vision.Reference
	for _, it := range s.cat.Items() {
		r, ok := stored[it.ID]
		if !ok {
			continue
		}
		out = append(out, vision.Reference{ID: it.ID, Name: it.Name, MIME: r.MIME, Data: r.Data})
	}
	return out, nil
}

func (s *Scheduler) stockLevels(snap inventory.Snapshot) []vision.StockLevel {
	out := make([]vision.StockLevel, 0, len(snap))
	for _, si := range snap {
		it, _ := s.cat.Get(si.ID)
		out = append(out, vision.StockLevel{ID: si.ID, Name: si.Name, Quantity: si.Quantity, Unit: si.Unit, Target: it.Target})
	}
	return out
}

// --- fenced completions ----------------------------------------------

func (s *Scheduler) current(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle == id
}

func (s *Scheduler) advance(id uint64, to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return false
	}
	s.phase = to
	s.notify()
	return true
}

func (s *Scheduler) applySnapshot(id uint64, snap inventory.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return false
	}
	s.sess.Snapshot = snap
	s.phase = PhaseDeciding
	log.Printf("cycle %d counted: %s", id, inventory.Describe(snap))
	s.notify()
	return true
}

func (s *Scheduler) applyPromotion(id uint64, dec inventory.Decision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return false
	}
	s.sess.Reasoning = dec.Reasoning
	s.sess.Promotion = dec.Promotion
	s.sess.Lines = nil
	s.phase = PhaseRenderingPromo
	s.notify()
	return true
}

func (s *Scheduler) finishPromotion(id uint64, img []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return
	}
	s.sess.PromotionImage = img
	s.cancel = nil
	s.phase = PhaseAwaitingPromotion
	s.armTimerLocked(id)
	s.notify()
}

func (s *Scheduler) finishOrder(id uint64, dec inventory.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return
	}
	s.sess.Reasoning = dec.Reasoning
	s.sess.Lines = dec.Lines
	s.sess.Promotion = nil
	s.cancel = nil
	s.phase = PhaseAwaitingOrder
	s.armTimerLocked(id)
	s.notify()
}

// armTimerLocked re-arms the unattended loop after a successful cycle.
// An optimal (empty) result still re-arms: only operator action or an
// error breaks the loop.
func (s *Scheduler) armTimerLocked(id uint64) {
	if !s.monitoring {
		return
	}
	s.stopTimerLocked()
	s.nextScan = time.Now().Add(s.cfg.Interval)
	s.timer = time.AfterFunc(s.cfg.Interval, func() { s.onTimer(id) })
}

func (s *Scheduler) onTimer(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id || !s.monitoring {
		return
	}
	if s.phase != PhaseAwaitingOrder && s.phase != PhaseAwaitingPromotion {
		return
	}
	s.resetSessionLocked()
	s.beginCycleLocked()
}

// fail moves the cycle to Error and halts the loop. Remote failures are
// never retried automatically; the operator decides what happens next.
func (s *Scheduler) fail(id uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != id {
		return
	}
	s.stopTimerLocked()
	s.monitoring = false
	s.cancel = nil
	s.phase = PhaseError
	s.rateLimited = vision.IsRateLimited(err)
	if s.rateLimited {
		s.sess.ErrorMessage = "API rate limit exceeded. Please wait a moment and try again."
	} else {
		s.sess.ErrorMessage = err.Error()
	}
	log.Printf("cycle %d failed: %v", id, err)
	s.notify()
}
