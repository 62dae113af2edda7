package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/shelfwatch/internal/camera"
	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/refstore"
	"github.com/jask/shelfwatch/internal/vision"
)

// jpegFrame is a minimal valid JPEG (SOI + APP0 header), enough for
// content-type sniffing.
var jpegFrame = mustB64("/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8UHRofHh0aHBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/wAALCAABAAEBAREA/8QAFAABAAAAAAAAAAAAAAAAAAAACf/EABQQAQAAAAAAAAAAAAAAAAAAAAD/2gAIAQEAAD8AKp//2Q==")

func mustB64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// fakeProvider scripts the remote calls. Each response field is read
// once per cycle; the gate channels let a test hold a call open while
// it interrupts the scheduler.
type fakeProvider struct {
	mu sync.Mutex

	counted  []vision.CountedItem
	countErr error
	action   vision.ActionResponse
	decErr   error
	image      []byte
	imageErr   error
	imageCalls int
	intent     bool

	countGate chan struct{} // if non-nil, CountInventory blocks until closed
	countCall chan struct{} // if non-nil, receives one send per CountInventory entry

	intentGate chan struct{} // if non-nil, ClassifyIntent blocks until closed
	intentCall chan struct{} // if non-nil, receives one send per ClassifyIntent entry
	intentDone chan struct{} // if non-nil, receives one send when ClassifyIntent is cancelled
}

func (f *fakeProvider) CountInventory(ctx context.Context, shelf []byte, refs []vision.Reference) ([]vision.CountedItem, error) {
	f.mu.Lock()
	call, gate := f.countCall, f.countGate
	counted, err := f.counted, f.countErr
	f.mu.Unlock()
	if call != nil {
		call <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return counted, nil
}

func (f *fakeProvider) DecideAction(ctx context.Context, stock []vision.StockLevel) (vision.ActionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action, f.decErr
}

func (f *fakeProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	return f.image, f.imageErr
}

func (f *fakeProvider) ClassifyIntent(ctx context.Context, text string) (bool, error) {
	f.mu.Lock()
	call, gate, done := f.intentCall, f.intentGate, f.intentDone
	intent := f.intent
	f.mu.Unlock()
	if call != nil {
		call <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			if done != nil {
				done <- struct{}{}
			}
			return false, ctx.Err()
		}
	}
	return intent, nil
}

func newTestStore(t *testing.T, seedAll bool) *refstore.Store {
	t.Helper()
	s, err := refstore.Open(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if seedAll {
		ctx := context.Background()
		for _, it := range catalog.Default().Items() {
			require.NoError(t, s.Set(ctx, it.ID, "image/jpeg", jpegFrame))
		}
	}
	return s
}

func fixedCamera(frame []byte) camera.Source {
	return camera.SourceFunc(func(ctx context.Context) ([]byte, error) { return frame, nil })
}

func testConfig() Config {
	return Config{Interval: 60 * time.Millisecond, CaptureRetry: 5 * time.Millisecond}
}

func waitPhase(t *testing.T, s *Scheduler, want Phase) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		st = s.State()
		return st.Phase == want
	}, 3*time.Second, 2*time.Millisecond, "waiting for phase %s, last %s", want, st.Phase)
	return st
}

func TestCycleProducesOrder(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{
			{ID: "ketchup", Name: "Ketchup", Quantity: 0, Unit: "packs"},
			{ID: "thai-hot-spicy-sauce", Name: "Thai & Hot Spicy Sauce", Quantity: 4, Unit: "packs"},
			{ID: "straws", Name: "Straws", Quantity: 3, Unit: "packs"},
		},
		action: vision.ActionResponse{
			Reasoning: "Restock ketchup and straws.",
			PurchaseOrderItems: []vision.RawOrdered{
				{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"},
				{ID: "straws", Name: "Straws", Quantity: 2, Unit: "packs"},
			},
		},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseAwaitingOrder)
	require.True(t, st.Monitoring)
	require.Len(t, st.Snapshot, 3)
	require.Equal(t, 0, st.Snapshot[0].Quantity)
	require.Len(t, st.Lines, 2)
	require.Equal(t, "Restock ketchup and straws.", st.Reasoning)
	require.False(t, st.NextScan.IsZero(), "loop re-arms while awaiting approval")
}

func TestCycleProducesPromotion(t *testing.T) {
	t.Parallel()

	poster := []byte("poster-bytes")
	provider := &fakeProvider{
		counted: []vision.CountedItem{
			{ID: "ketchup", Quantity: 2}, {ID: "thai-hot-spicy-sauce", Quantity: 9}, {ID: "straws", Quantity: 5},
		},
		action: vision.ActionResponse{
			Reasoning: "Sauce is overstocked.",
			PromotionCampaign: &vision.RawPromotion{
				PromotionName: "Spice It Up",
				ProductName:   "Thai & Hot Spicy Sauce",
				ImagePrompt:   "hot sauce hero shot",
			},
		},
		image: poster,
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseAwaitingPromotion)
	require.NotNil(t, st.Promotion)
	require.Equal(t, "Spice It Up", st.Promotion.PromotionName)
	require.Equal(t, poster, st.PromotionImage)
	require.Empty(t, st.Lines)
}

func TestStopDiscardsLateResult(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	calls := make(chan struct{}, 1)
	provider := &fakeProvider{
		counted:   []vision.CountedItem{{ID: "ketchup", Quantity: 1}},
		action:    vision.ActionResponse{PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 1, Unit: "packs"}}},
		countGate: gate,
		countCall: calls,
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	<-calls // pipeline is inside CountInventory
	s.Stop()
	close(gate) // let the stale goroutine finish

	// The stale result must never surface: the scheduler stays idle
	// with an empty session.
	time.Sleep(50 * time.Millisecond)
	st := s.State()
	require.Equal(t, PhaseIdle, st.Phase)
	require.False(t, st.Monitoring)
	require.Empty(t, st.Snapshot)
	require.Empty(t, st.Lines)
}

func TestRemoteFailureStopsLoop(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{countErr: errors.New("boom")}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseError)
	require.False(t, st.Monitoring)
	require.False(t, st.RateLimited)
	require.Contains(t, st.ErrorMessage, "boom")

	// Stop doubles as the reset from a terminal phase.
	s.Stop()
	require.Equal(t, PhaseIdle, s.State().Phase)
}

func TestRateLimitedFailureMessage(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		countErr: &vision.Error{Kind: vision.RateLimited, Op: "count", Err: errors.New("429")},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseError)
	require.True(t, st.RateLimited)
	require.Equal(t, "API rate limit exceeded. Please wait a moment and try again.", st.ErrorMessage)
}

func TestEmptyImagePromptNeverRendersImage(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "thai-hot-spicy-sauce", Quantity: 9}},
		action: vision.ActionResponse{
			PromotionCampaign: &vision.RawPromotion{PromotionName: "Spice It Up", ImagePrompt: ""},
		},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseError)
	require.Contains(t, st.ErrorMessage, "contract violation")

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Zero(t, provider.imageCalls, "image generation must not run on a broken contract")
}

func TestCaptureRetriesUntilFrame(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	misses := 0
	cam := camera.SourceFunc(func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if misses < 3 {
			misses++
			return nil, nil // no frame yet
		}
		return jpegFrame, nil
	})
	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
	}
	s := New(cam, provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, misses)
}

func TestNoReferencesFailsCycle(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, false), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseError)
	require.Contains(t, st.ErrorMessage, "no calibrated reference images")
}

func TestTimerReArmsNextCycle(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	first := waitPhase(t, s, PhaseAwaitingOrder)

	// An untouched pending order is superseded by the next scan.
	require.Eventually(t, func() bool {
		st := s.State()
		return st.Phase == PhaseAwaitingOrder && st.Cycle > first.Cycle
	}, 3*time.Second, 5*time.Millisecond)
}

func TestApproveAndRejectGating(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.ErrorIs(t, s.Approve(), ErrNotAwaiting)
	require.ErrorIs(t, s.Reject(), ErrNotAwaiting)

	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)
	require.NoError(t, s.Approve())

	st := s.State()
	require.Equal(t, PhaseApproved, st.Phase)
	require.False(t, st.Monitoring)
	require.True(t, st.NextScan.IsZero(), "approval halts the loop")

	// No second disposition of the same session.
	require.ErrorIs(t, s.Reject(), ErrNotAwaiting)
}

func TestLineEditsOnlyWhileAwaitingOrder(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	_, err := s.AddLine()
	require.ErrorIs(t, err, ErrNotEditing)

	require.NoError(t, s.StartMonitoring())
	st := waitPhase(t, s, PhaseAwaitingOrder)

	id, err := s.AddLine()
	require.NoError(t, err)
	require.NoError(t, s.SetQuantity(id, 9))
	require.NoError(t, s.RenameLine(id, "name", "Napkins"))
	require.Error(t, s.RenameLine(st.Lines[0].ID, "name", "Mustard"), "catalog lines are immutable")
	require.NoError(t, s.RemoveLine(id))
	require.Error(t, s.RemoveLine(id))
}

func TestSubmitCommandAddsStandardItems(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
		intent: true,
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.ErrorIs(t, s.SubmitCommand("add the standard items"), ErrNotEditing)

	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)

	require.NoError(t, s.SubmitCommand("add the standard items"))
	require.Eventually(t, func() bool {
		st := s.State()
		return !st.CommandBusy && len(st.Lines) == 1+len(catalog.StandardItems())
	}, 3*time.Second, 2*time.Millisecond)
}

func TestCommandBusyClearsWhenSessionConcludes(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	calls := make(chan struct{}, 1)
	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
		intent:     true,
		intentGate: gate,
		intentCall: calls,
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)
	require.NoError(t, s.SubmitCommand("add the standard items"))
	<-calls // classification is in flight

	// The operator concludes the session before the result lands.
	require.NoError(t, s.Approve())
	close(gate)

	require.Eventually(t, func() bool {
		return !s.State().CommandBusy
	}, 3*time.Second, 2*time.Millisecond, "busy flag must not outlive the command")

	// A fresh session accepts commands again, and the stale result
	// never touched the concluded one.
	require.Empty(t, s.State().Lines[1:], "no standard items on the approved order")
	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)
	require.NoError(t, s.SubmitCommand("add the standard items"))
	require.Eventually(t, func() bool {
		st := s.State()
		return !st.CommandBusy && len(st.Lines) == 1+len(catalog.StandardItems())
	}, 3*time.Second, 2*time.Millisecond)
}

func TestStopCancelsPendingCommand(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{}) // never released; only cancellation frees the call
	calls := make(chan struct{}, 1)
	done := make(chan struct{}, 1)
	provider := &fakeProvider{
		counted: []vision.CountedItem{{ID: "ketchup", Quantity: 0}},
		action: vision.ActionResponse{
			PurchaseOrderItems: []vision.RawOrdered{{ID: "ketchup", Name: "Ketchup", Quantity: 2, Unit: "packs"}},
		},
		intentGate: gate,
		intentCall: calls,
		intentDone: done,
	}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), newTestStore(t, true), testConfig(), nil)
	defer s.Stop()

	require.NoError(t, s.StartMonitoring())
	waitPhase(t, s, PhaseAwaitingOrder)
	require.NoError(t, s.SubmitCommand("add the standard items"))
	<-calls

	s.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("classification context was never cancelled")
	}
	st := s.State()
	require.Equal(t, PhaseIdle, st.Phase)
	require.False(t, st.CommandBusy)
}

func TestCalibrationLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t, false)
	provider := &fakeProvider{}
	s := New(fixedCamera(jpegFrame), provider, catalog.Default(), store, testConfig(), nil)
	defer s.Stop()

	require.ErrorIs(t, s.StartCalibration("not-a-thing"), ErrUnknownItem)
	require.NoError(t, s.StartCalibration("ketchup"))

	// Monitoring cannot start mid-calibration.
	require.ErrorIs(t, s.StartMonitoring(), ErrInCalibration)

	require.ErrorIs(t, s.SubmitReference(ctx, "ketchup", []byte("plain text, not an image")), ErrBadImageType)
	require.NoError(t, s.SubmitReference(ctx, "ketchup", jpegFrame))
	require.Empty(t, s.State().Calibrating, "submitting clears the in-progress flag")

	ref, ok, err := store.Get(ctx, "ketchup")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", ref.MIME)

	require.NoError(t, s.StartCalibration("straws"))
	s.CancelCalibration()
	require.NoError(t, s.StartMonitoring())
	s.Stop()
}
