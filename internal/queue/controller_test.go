// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/convert-engine/internal/logging"
	"github.com/pdiddy/convert-engine/pkg/types"
)

const eventually = 5 * time.Second
const tick = 5 * time.Millisecond

type fakeEngine struct {
	mu       sync.Mutex
	posted   []types.Inbound
	out      chan types.Outbound
	closed   bool
	autoPong bool
	postErr  error
}

func newFakeEngine(autoPong bool) *fakeEngine {
	return &fakeEngine{out: make(chan types.Outbound, 256), autoPong: autoPong}
}

func (f *fakeEngine) Post(msg types.Inbound) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("closed")
	}
	if f.postErr != nil && msg.Kind == types.KindConvert {
		f.mu.Unlock()
		return f.postErr
	}
	f.posted = append(f.posted, msg)
	pong := f.autoPong && msg.Kind == types.KindPing
	f.mu.Unlock()

	if pong {
		f.send(types.PongMessage())
	}
	return nil
}

func (f *fakeEngine) Messages() <-chan types.Outbound { return f.out }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
	return nil
}

func (f *fakeEngine) send(msg types.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.out <- msg
	}
}

func (f *fakeEngine) status(id string, state types.State, progress float64) {
	st := types.ConversionStatus{ID: id, State: state, Progress: progress}
	if state == types.StateCompleted {
		st.Result = &types.Blob{Name: "out", MIME: "image/jpeg", Data: []byte{1, 2, 3}}
	}
	if state == types.StateError {
		st.Error = "decode failed: corrupt"
	}
	f.send(types.StatusMessage(st))
}

func (f *fakeEngine) converts() []types.ConversionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ConversionRequest
	for _, m := range f.posted {
		if m.Kind == types.KindConvert {
			out = append(out, *m.Request)
		}
	}
	return out
}

func (f *fakeEngine) firstKind() types.MessageKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posted) == 0 {
		return ""
	}
	return f.posted[0].Kind
}

func factoryFor(f *fakeEngine) EngineFactory {
	return func(context.Context) (Engine, error) { return f, nil }
}

type memRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *memRecorder) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memRecorder) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func newController(t *testing.T, f *fakeEngine, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNop())}, opts...)
	c := New(factoryFor(f), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readyController(t *testing.T, f *fakeEngine, opts ...Option) *Controller {
	t.Helper()
	c := newController(t, f, opts...)
	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.WaitReady(context.Background()))
	return c
}

func blobs(names ...string) []types.Blob {
	out := make([]types.Blob, len(names))
	for i, n := range names {
		out[i] = types.Blob{Name: n, MIME: "image/png", Data: []byte(n)}
	}
	return out
}

func waitConverts(t *testing.T, f *fakeEngine, n int) []types.ConversionRequest {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.converts()) >= n }, eventually, tick)
	return f.converts()
}

func recordByID(c *Controller, id string) (Record, bool) {
	for _, r := range c.Observe() {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

func TestReadyOnlyAfterPong(t *testing.T) {
	f := newFakeEngine(false)
	c := newController(t, f)

	require.NoError(t, c.Initialize(context.Background()))
	assert.False(t, c.Ready())
	assert.Equal(t, types.KindPing, f.firstKind())

	f.send(types.PongMessage())
	require.NoError(t, c.WaitReady(context.Background()))
	assert.True(t, c.Ready())

	assert.ErrorIs(t, c.Initialize(context.Background()), ErrAlreadyInitialized)
}

func TestSubmissionsBeforeReadyAreBuffered(t *testing.T) {
	f := newFakeEngine(false)
	c := newController(t, f)
	require.NoError(t, c.Initialize(context.Background()))

	ids, err := c.Submit(context.Background(), blobs("a.png", "b.png"), types.FormatJPG, SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	records := c.Observe()
	require.Len(t, records, 2)
	for i, r := range records {
		assert.Equal(t, ids[i], r.ID)
		assert.Equal(t, types.StatePending, r.State)
		assert.Equal(t, types.FormatJPG, r.Target)
	}
	assert.True(t, c.IsConverting())
	assert.Empty(t, f.converts(), "nothing may be posted before PONG")

	f.send(types.PongMessage())
	reqs := waitConverts(t, f, 2)
	assert.Equal(t, ids[0], reqs[0].ID)
	assert.Equal(t, ids[1], reqs[1].ID)
	assert.Equal(t, "a.png", reqs[0].Source.Name)
}

func TestStartupTimeoutFailsBufferedRecords(t *testing.T) {
	f := newFakeEngine(false)
	rec := &memRecorder{}
	c := newController(t, f,
		WithConfig(types.QueueConfig{StartupTimeout: 100 * time.Millisecond, MaxPending: 10}),
		WithRecorder(rec),
	)
	require.NoError(t, c.Initialize(context.Background()))
	_, err := c.Submit(context.Background(), blobs("a.png", "b.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)

	err = c.WaitReady(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
	assert.False(t, c.Ready())

	for _, r := range c.Observe() {
		assert.Equal(t, types.StateError, r.State)
		assert.Equal(t, msgStartupFailed, r.Error)
	}
	assert.False(t, c.IsConverting())
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, eventually, tick)
	assert.Empty(t, f.converts())

	_, err = c.Submit(context.Background(), blobs("c.png"), types.FormatPNG, SubmitOptions{})
	assert.ErrorIs(t, err, ErrNotReady)

	// A late PONG does not revive the controller.
	f.send(types.PongMessage())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Ready())
}

func TestFactoryFailure(t *testing.T) {
	c := New(func(context.Context) (Engine, error) {
		return nil, errors.New("no worker support")
	}, WithLogger(logging.NewNop()))
	t.Cleanup(func() { _ = c.Close() })

	err := c.Initialize(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "no worker support")

	_, err = c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, c.WaitReady(context.Background()), ErrNotReady)
}

func TestBacklogLimit(t *testing.T) {
	f := newFakeEngine(false)
	c := newController(t, f, WithConfig(types.QueueConfig{StartupTimeout: time.Minute, MaxPending: 2}))

	_, err := c.Submit(context.Background(), blobs("a", "b", "c"), types.FormatPNG, SubmitOptions{})
	require.ErrorIs(t, err, ErrBacklogFull)
	assert.Empty(t, c.Observe())

	_, err = c.Submit(context.Background(), blobs("a", "b"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
}

func TestSubmitRejectsUnknownTarget(t *testing.T) {
	c := readyController(t, newFakeEngine(true))
	_, err := c.Submit(context.Background(), blobs("a.png"), types.Format("tiff"), SubmitOptions{})
	require.Error(t, err)
	assert.Empty(t, c.Observe())
}

func TestSubmitPassesOptions(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)
	q := 0.5
	_, err := c.Submit(context.Background(), blobs("a.svg"), types.FormatPNG, SubmitOptions{Quality: &q, Scale: 3})
	require.NoError(t, err)

	req := waitConverts(t, f, 1)[0]
	require.NotNil(t, req.Quality)
	assert.Equal(t, 0.5, *req.Quality)
	assert.Equal(t, 3, req.Scale)
	assert.Equal(t, types.FormatPNG, req.Target)
}

func TestStatusCorrelation(t *testing.T) {
	f := newFakeEngine(true)
	rec := &memRecorder{}
	c := readyController(t, f, WithRecorder(rec))

	ids, err := c.Submit(context.Background(), blobs("a.png", "b.png"), types.FormatJPG, SubmitOptions{})
	require.NoError(t, err)
	waitConverts(t, f, 2)

	f.status("unknown-id", types.StateCompleted, 1)
	f.status(ids[0], types.StateProcessing, 0.3)
	f.status(ids[0], types.StateProcessing, 0.1)
	require.Eventually(t, func() bool {
		r, _ := recordByID(c, ids[0])
		return r.State == types.StateProcessing && r.Progress == 0.3
	}, eventually, tick)

	f.status(ids[0], types.StateCompleted, 1)
	f.status(ids[0], types.StateProcessing, 0.5)
	f.status(ids[1], types.StateError, 1)
	require.Eventually(t, func() bool {
		r, _ := recordByID(c, ids[1])
		return r.State == types.StateError
	}, eventually, tick)

	a, _ := recordByID(c, ids[0])
	assert.Equal(t, types.StateCompleted, a.State)
	assert.Equal(t, 1.0, a.Progress)
	require.NotNil(t, a.Result)
	assert.Equal(t, 3, a.ResultBytes())

	b, _ := recordByID(c, ids[1])
	assert.Equal(t, "decode failed: corrupt", b.Error)
	assert.Nil(t, b.Result)

	assert.Len(t, c.Observe(), 2)
	assert.False(t, c.IsConverting())
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, eventually, tick)
}

func TestResetIgnoresLateStatus(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)

	ids, err := c.Submit(context.Background(), blobs("a.png"), types.FormatJPG, SubmitOptions{})
	require.NoError(t, err)
	waitConverts(t, f, 1)

	c.Reset()
	assert.Empty(t, c.Observe())
	assert.False(t, c.IsConverting())

	f.status(ids[0], types.StateCompleted, 1)
	newIDs, err := c.Submit(context.Background(), blobs("b.png"), types.FormatJPG, SubmitOptions{})
	require.NoError(t, err)
	f.status(newIDs[0], types.StateProcessing, 0.1)
	require.Eventually(t, func() bool {
		r, _ := recordByID(c, newIDs[0])
		return r.State == types.StateProcessing
	}, eventually, tick)

	records := c.Observe()
	require.Len(t, records, 1)
	assert.Equal(t, newIDs[0], records[0].ID)
}

type gatedNormalizer struct {
	block   string
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedNormalizer) Normalize(_ context.Context, b types.Blob) (types.Blob, bool) {
	if b.Name == g.block {
		close(g.entered)
		<-g.gate
	}
	return b, false
}

func TestNewerSubmissionSupersedesDispatch(t *testing.T) {
	f := newFakeEngine(true)
	n := &gatedNormalizer{block: "a1.png", entered: make(chan struct{}), gate: make(chan struct{})}
	c := readyController(t, f, WithNormalizer(n))

	_, err := c.Submit(context.Background(), blobs("a1.png", "a2.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	<-n.entered

	ids, err := c.Submit(context.Background(), blobs("b1.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	close(n.gate)

	waitConverts(t, f, 1)
	require.NoError(t, c.Close())

	reqs := f.converts()
	require.Len(t, reqs, 1)
	assert.Equal(t, ids[0], reqs[0].ID)

	records := c.Observe()
	require.Len(t, records, 1)
	assert.Equal(t, "b1.png", records[0].Name)
}

type renamingNormalizer struct{}

func (renamingNormalizer) Normalize(_ context.Context, b types.Blob) (types.Blob, bool) {
	if b.Ext() != ".heic" {
		return b, false
	}
	return types.Blob{Name: b.Rename(".jpg"), MIME: "image/jpeg", Data: []byte("jpeg")}, true
}

func TestNormalizerRewritesPostedSource(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f, WithNormalizer(renamingNormalizer{}))

	ids, err := c.Submit(context.Background(), blobs("photo.heic", "plain.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)

	reqs := waitConverts(t, f, 2)
	assert.Equal(t, "photo.jpg", reqs[0].Source.Name)
	assert.Equal(t, "image/jpeg", reqs[0].Source.MIME)
	assert.Equal(t, "plain.png", reqs[1].Source.Name)

	r, _ := recordByID(c, ids[0])
	assert.Equal(t, "photo.heic", r.Name, "records keep the submitted name")
}

func TestPostedSourceIsCopied(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)

	files := blobs("a.png")
	_, err := c.Submit(context.Background(), files, types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	req := waitConverts(t, f, 1)[0]

	files[0].Data[0] = 'X'
	assert.Equal(t, byte('a'), req.Source.Data[0])
}

func TestPostFailureMarksRecord(t *testing.T) {
	f := newFakeEngine(true)
	f.postErr = errors.New("inbox gone")
	c := readyController(t, f)

	ids, err := c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, _ := recordByID(c, ids[0])
		return r.State == types.StateError
	}, eventually, tick)
	r, _ := recordByID(c, ids[0])
	assert.Contains(t, r.Error, "inbox gone")
}

func TestEngineExitFailsActiveRecords(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)

	ids, err := c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	waitConverts(t, f, 1)

	require.NoError(t, f.Close())
	require.Eventually(t, func() bool {
		r, _ := recordByID(c, ids[0])
		return r.State == types.StateError
	}, eventually, tick)
	r, _ := recordByID(c, ids[0])
	assert.Equal(t, msgEngineStopped, r.Error)
}

func TestSubscribeKeepsLatestSnapshot(t *testing.T) {
	c := readyController(t, newFakeEngine(true))

	ch, cancel := c.Subscribe()
	defer cancel()
	initial := <-ch
	assert.Empty(t, initial)

	_, err := c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), blobs("b.png", "c.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)

	latest := <-ch
	require.Len(t, latest, 2)
	assert.Equal(t, "b.png", latest[0].Name)

	select {
	case snap := <-ch:
		t.Fatalf("unexpected extra snapshot %v", snap)
	default:
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWaitReturnsWhenIdle(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)
	require.NoError(t, c.Wait(context.Background()))

	ids, err := c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	waitConverts(t, f, 1)
	go f.status(ids[0], types.StateCompleted, 1)
	require.NoError(t, c.Wait(context.Background()))
	assert.False(t, c.IsConverting())
}

func TestClose(t *testing.T) {
	f := newFakeEngine(true)
	c := readyController(t, f)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Submit(context.Background(), blobs("a.png"), types.FormatPNG, SubmitOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Initialize(context.Background()), ErrClosed)

	ch, cancel := c.Subscribe()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseBeforeInitializeUnblocksWaitReady(t *testing.T) {
	c := New(factoryFor(newFakeEngine(false)), WithLogger(logging.NewNop()))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.WaitReady(context.Background()), ErrClosed)
}

func pngFile(t *testing.T, name string) types.Blob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return types.NewBlob(name, buf.Bytes())
}

func TestWithEngineWorker(t *testing.T) {
	rec := &memRecorder{}
	c := New(WorkerFactory(types.DefaultConfig().Engine, logging.NewNop()),
		WithLogger(logging.NewNop()),
		WithRecorder(rec),
	)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Initialize(context.Background()))
	files := []types.Blob{
		pngFile(t, "one.png"),
		pngFile(t, "two.png"),
		{Name: "bad.png", MIME: "image/png", Data: []byte("nope")},
	}
	ids, err := c.Submit(context.Background(), files, types.FormatJPG, SubmitOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	records := c.Observe()
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, ids[i], r.ID)
	}
	assert.Equal(t, types.StateCompleted, records[0].State)
	assert.Equal(t, "one.jpg", records[0].Result.Name)
	assert.Equal(t, types.StateCompleted, records[1].State)
	assert.Equal(t, types.StateError, records[2].State)
	assert.Contains(t, records[2].Error, "decode")
	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, eventually, tick)
}
