package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/testutil"
	"github.com/assetforge/upload/persist"
	"github.com/assetforge/upload/uptypes"
)

// testSession builds a three file session: one multi-part, one single part,
// one zero byte.
func testSession() *uptypes.Session {
	return NewSession("asset-1", "db-1", "assets/1", []*uptypes.FileItem{
		testutil.NewFileItem(0, "big.bin", 250),
		testutil.NewFileItem(1, "small.bin", 40),
		testutil.NewFileItem(2, "empty.bin", 0),
	})
}

func newTestClient(t *testing.T, svc Service, opts ...Option) *Client {
	t.Helper()
	c, err := New(svc, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, uperrors.ErrInvalidInput)
}

func TestClient_Upload_HappyPath(t *testing.T) {
	svc := &testutil.MockService{}
	obs := &testutil.RecordingObserver{}
	store := persist.NewMemory()
	client := newTestClient(t, svc,
		WithStore(store),
		WithObserver(obs),
		WithPartSize(100),
		WithConcurrency(2),
	)

	sess := testSession()
	require.NoError(t, client.Upload(context.Background(), sess))

	assert.True(t, sess.Complete())
	assert.True(t, sess.CompletionSubmitted)
	for _, f := range sess.Files {
		assert.Equal(t, uptypes.StatusCompleted, f.Status)
		assert.Equal(t, 100, f.Progress())
		assert.NotEmpty(t, f.UploadID)
		assert.NotEmpty(t, f.Parts)
	}

	// 250 bytes at part size 100 -> 3 parts; 40 -> 1; 0 -> 1 empty part
	assert.Len(t, svc.PartCalls(), 5)

	completes := svc.CompleteCalls()
	require.Len(t, completes, 1)
	require.Len(t, completes[0].Files, 3)

	assert.Len(t, obs.Completes, 3)
	assert.Empty(t, obs.Errors)

	rec, err := store.Get(context.Background(), "asset-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.CompletionSubmitted)
	require.Len(t, rec.Files, 3)
	assert.Equal(t, uptypes.StatusCompleted, rec.Files[0].Status)
	assert.NotEmpty(t, rec.Files[0].Parts, "tokens persisted for finalization across restarts")
}

func TestClient_Upload_PartsCarryFileBytes(t *testing.T) {
	svc := &testutil.MockService{}
	client := newTestClient(t, svc, WithPartSize(100))

	sess := NewSession("asset-1", "db-1", "assets/1", []*uptypes.FileItem{
		testutil.NewFileItem(0, "f.bin", 250),
	})
	require.NoError(t, client.Upload(context.Background(), sess))

	calls := svc.PartCalls()
	require.Len(t, calls, 3)

	var total int
	for _, call := range calls {
		assert.Equal(t, int64(len(call.Body)), call.Size)
		total += len(call.Body)
	}
	assert.Equal(t, 250, total, "every byte of the file is transferred exactly once")
}

// failingService wraps the mock with a URL substring that fails until cleared.
type failingService struct {
	testutil.MockService
	mu       sync.Mutex
	failSub  string
	failures int
}

func (f *failingService) UploadPart(ctx context.Context, url string, body io.Reader, size int64) (string, error) {
	f.mu.Lock()
	shouldFail := f.failSub != "" && strings.Contains(url, f.failSub)
	if shouldFail {
		f.failures++
	}
	f.mu.Unlock()

	if shouldFail {
		_, _ = io.Copy(io.Discard, body)
		return "", errors.New("injected transfer failure")
	}
	return f.MockService.UploadPart(ctx, url, body, size)
}

func (f *failingService) heal() {
	f.mu.Lock()
	f.failSub = ""
	f.mu.Unlock()
}

func TestClient_Upload_FileFailureDoesNotStopSiblings(t *testing.T) {
	svc := &failingService{failSub: "big.bin/part/2"}
	obs := &testutil.RecordingObserver{}
	store := persist.NewMemory()
	client := newTestClient(t, svc,
		WithStore(store),
		WithObserver(obs),
		WithPartSize(100),
		WithConcurrency(1),
	)

	sess := testSession()
	err := client.Upload(context.Background(), sess)
	require.Error(t, err)
	assert.True(t, uperrors.IsSessionIncomplete(err))

	assert.Equal(t, uptypes.StatusFailed, sess.Files[0].Status)
	assert.Equal(t, uptypes.StatusCompleted, sess.Files[1].Status)
	assert.Equal(t, uptypes.StatusCompleted, sess.Files[2].Status)

	require.Len(t, obs.ErrorsFor(0), 1)
	assert.False(t, sess.CompletionSubmitted, "no finalization while files are failed")
	assert.Empty(t, svc.CompleteCalls())

	rec, err := store.Get(context.Background(), "asset-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uptypes.StatusFailed, rec.Files[0].Status)
}

func TestClient_Retry_RestartsFailedFileFromFirstPart(t *testing.T) {
	svc := &failingService{failSub: "big.bin/part/2"}
	client := newTestClient(t, svc, WithPartSize(100), WithConcurrency(1))

	sess := testSession()
	require.Error(t, client.Upload(context.Background(), sess))
	partsBefore := len(svc.PartCalls())

	svc.heal()
	require.NoError(t, client.Retry(context.Background(), sess))

	assert.True(t, sess.Complete())
	assert.True(t, sess.CompletionSubmitted)

	// the failed 3-part file restarts from part 1: all three parts again
	assert.Equal(t, partsBefore+3, len(svc.PartCalls()))

	// second initialization covers only the requeued file
	inits := svc.InitializeCalls()
	require.Len(t, inits, 2)
	require.Len(t, inits[1].Files, 1)
	assert.Equal(t, "big.bin", inits[1].Files[0].RelativeKey)
}

func TestClient_Retry_NoFailedFilesIsIdempotent(t *testing.T) {
	svc := &testutil.MockService{}
	client := newTestClient(t, svc, WithPartSize(100))

	sess := testSession()
	require.NoError(t, client.Upload(context.Background(), sess))
	parts := len(svc.PartCalls())

	require.NoError(t, client.Retry(context.Background(), sess))

	assert.Equal(t, parts, len(svc.PartCalls()), "nothing re-uploads")
	assert.Len(t, svc.CompleteCalls(), 1, "completion not resubmitted")
}

func TestClient_Upload_CompletionFailureRetriesCompletionAlone(t *testing.T) {
	refuse := true
	svc := &testutil.MockService{}
	svc.CompleteUploadFunc = func(_ context.Context, req *uptypes.CompleteRequest) (*uptypes.CompleteResult, error) {
		if refuse {
			return nil, errors.New("remote refused")
		}
		return &uptypes.CompleteResult{}, nil
	}
	client := newTestClient(t, svc, WithPartSize(100))

	sess := testSession()
	err := client.Upload(context.Background(), sess)
	require.Error(t, err)
	assert.ErrorIs(t, err, uperrors.ErrCompletion)
	assert.True(t, sess.Complete(), "parts all landed; only finalization failed")
	assert.False(t, sess.CompletionSubmitted)

	parts := len(svc.PartCalls())
	refuse = false

	require.NoError(t, client.Upload(context.Background(), sess))
	assert.True(t, sess.CompletionSubmitted)
	assert.Equal(t, parts, len(svc.PartCalls()), "no part re-uploads for a completion-only retry")
	assert.Len(t, svc.CompleteCalls(), 2)
}

func TestClient_Resume_FinalizesAcrossProcessRestart(t *testing.T) {
	store := persist.NewMemory()

	// first process: every part lands but the remote refuses finalization
	svc1 := &testutil.MockService{}
	svc1.CompleteUploadFunc = func(context.Context, *uptypes.CompleteRequest) (*uptypes.CompleteResult, error) {
		return nil, errors.New("remote refused")
	}
	client1 := newTestClient(t, svc1, WithStore(store), WithPartSize(100))
	err := client1.Upload(context.Background(), testSession())
	require.Error(t, err)
	assert.ErrorIs(t, err, uperrors.ErrCompletion)

	// second process: fresh enumeration, fresh client, same store
	svc2 := &testutil.MockService{}
	client2 := newTestClient(t, svc2, WithStore(store), WithPartSize(100))
	sess := testSession()

	require.NoError(t, client2.Resume(context.Background(), sess))
	assert.Equal(t, "session-1", sess.UploadID, "session token restored from the record")
	assert.True(t, sess.Complete())

	require.NoError(t, client2.Upload(context.Background(), sess))
	assert.True(t, sess.CompletionSubmitted)

	// completion retries alone: no re-initialization, no part re-uploads
	assert.Empty(t, svc2.InitializeCalls())
	assert.Empty(t, svc2.PartCalls())

	completes := svc2.CompleteCalls()
	require.Len(t, completes, 1)
	assert.Equal(t, "session-1", completes[0].UploadID)
	require.Len(t, completes[0].Files, 3)
	for _, f := range completes[0].Files {
		assert.NotEmpty(t, f.UploadID)
	}
}

func TestClient_Upload_AlreadySubmittedIsNoOp(t *testing.T) {
	svc := &testutil.MockService{}
	client := newTestClient(t, svc, WithPartSize(100))

	sess := testSession()
	require.NoError(t, client.Upload(context.Background(), sess))
	require.NoError(t, client.Upload(context.Background(), sess))

	assert.Len(t, svc.InitializeCalls(), 1)
	assert.Len(t, svc.CompleteCalls(), 1)
}

func TestClient_Upload_RejectsInvalidSessions(t *testing.T) {
	client := newTestClient(t, &testutil.MockService{})

	tests := []struct {
		name string
		sess *uptypes.Session
	}{
		{name: "nil session", sess: nil},
		{name: "missing asset ID", sess: &uptypes.Session{Files: []*uptypes.FileItem{testutil.NewFileItem(0, "a", 1)}}},
		{name: "no files", sess: &uptypes.Session{AssetID: "a"}},
		{
			name: "traversal path",
			sess: NewSession("a", "db", "p", []*uptypes.FileItem{testutil.NewFileItem(0, "../evil", 1)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Upload(context.Background(), tt.sess)
			require.Error(t, err)
			assert.ErrorIs(t, err, uperrors.ErrInvalidInput)
		})
	}
}

func TestClient_Resume_SkipsCompletedAndRequeuesRest(t *testing.T) {
	store := persist.NewMemory()

	// first process: one file fails, the rest complete
	svc1 := &failingService{failSub: "big.bin/part/2"}
	client1 := newTestClient(t, svc1, WithStore(store), WithPartSize(100), WithConcurrency(1))
	require.Error(t, client1.Upload(context.Background(), testSession()))

	// second process: fresh enumeration, fresh client, same store
	svc2 := &testutil.MockService{}
	client2 := newTestClient(t, svc2, WithStore(store), WithPartSize(100))
	sess := testSession()

	require.NoError(t, client2.Resume(context.Background(), sess))

	byPath := make(map[string]*uptypes.FileItem)
	for _, f := range sess.Files {
		byPath[f.RelativePath] = f
	}
	assert.Equal(t, uptypes.StatusQueued, byPath["big.bin"].Status, "failed file requeued on resume")
	assert.Equal(t, uptypes.StatusCompleted, byPath["small.bin"].Status)
	assert.Equal(t, uptypes.StatusCompleted, byPath["empty.bin"].Status)

	require.NoError(t, client2.Upload(context.Background(), sess))
	assert.True(t, sess.CompletionSubmitted)

	// only the requeued file re-initializes and re-transfers
	inits := svc2.InitializeCalls()
	require.Len(t, inits, 1)
	require.Len(t, inits[0].Files, 1)
	assert.Equal(t, "big.bin", inits[0].Files[0].RelativeKey)
	assert.Len(t, svc2.PartCalls(), 3)

	// finalization covers every file, including those completed by process one
	completes := svc2.CompleteCalls()
	require.Len(t, completes, 1)
	assert.Len(t, completes[0].Files, 3)
}

func TestClient_Resume_NoRecordLeavesSessionUntouched(t *testing.T) {
	client := newTestClient(t, &testutil.MockService{}, WithStore(persist.NewMemory()))

	sess := testSession()
	require.NoError(t, client.Resume(context.Background(), sess))

	require.Len(t, sess.Files, 3)
	for _, f := range sess.Files {
		assert.Equal(t, uptypes.StatusQueued, f.Status)
	}
}

func TestClient_Resume_NewFileAppendsWithFreshIndex(t *testing.T) {
	store := persist.NewMemory()

	svc1 := &testutil.MockService{}
	client1 := newTestClient(t, svc1, WithStore(store), WithPartSize(100))
	first := NewSession("asset-1", "db-1", "assets/1", []*uptypes.FileItem{
		testutil.NewFileItem(0, "a.bin", 40),
	})
	require.NoError(t, client1.Upload(context.Background(), first))

	// re-selection adds a file to the finished session
	client2 := newTestClient(t, &testutil.MockService{}, WithStore(store), WithPartSize(100))
	sess := NewSession("asset-1", "db-1", "assets/1", []*uptypes.FileItem{
		testutil.NewFileItem(0, "a.bin", 40),
		testutil.NewFileItem(1, "b.bin", 40),
	})
	require.NoError(t, client2.Resume(context.Background(), sess))

	require.Len(t, sess.Files, 2)
	assert.Equal(t, uptypes.StatusCompleted, sess.Files[0].Status)
	assert.Equal(t, 1, sess.Files[1].Index, "new file index continues past the persisted maximum")
	assert.Equal(t, uptypes.StatusQueued, sess.Files[1].Status)
}

func TestClient_Resume_AccessDenialFailsFile(t *testing.T) {
	store := persist.NewMemory()

	svc1 := &failingService{failSub: "big.bin/part/2"}
	client1 := newTestClient(t, svc1, WithStore(store), WithPartSize(100), WithConcurrency(1))
	require.Error(t, client1.Upload(context.Background(), testSession()))

	obs := &testutil.RecordingObserver{}
	client2 := newTestClient(t, &testutil.MockService{},
		WithStore(store), WithObserver(obs), WithPartSize(100))

	sess := testSession()
	for _, f := range sess.Files {
		if f.RelativePath == "big.bin" {
			f.Handle = &testutil.GatedHandle{Readable: false, Regrant: false}
		}
	}

	require.NoError(t, client2.Resume(context.Background(), sess))

	byPath := make(map[string]*uptypes.FileItem)
	for _, f := range sess.Files {
		byPath[f.RelativePath] = f
	}
	assert.Equal(t, uptypes.StatusFailed, byPath["big.bin"].Status)
	require.Len(t, obs.Errors, 1)
	assert.True(t, uperrors.IsPermission(obs.Errors[0].Err))

	err := client2.Upload(context.Background(), sess)
	require.Error(t, err)
	assert.True(t, uperrors.IsSessionIncomplete(err))
}

func TestNewSession(t *testing.T) {
	files := []*uptypes.FileItem{
		{RelativePath: "a.bin", Size: 10, Index: 99, Status: uptypes.StatusFailed, Loaded: 5},
		{RelativePath: "b.bin", Size: 20},
	}
	sess := NewSession("asset-1", "db-1", "assets/1", files)

	assert.Equal(t, "asset-1", sess.AssetID)
	require.Len(t, sess.Files, 2)
	for i, f := range sess.Files {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, uptypes.StatusQueued, f.Status)
		assert.Equal(t, int64(0), f.Loaded)
		assert.Equal(t, f.Size, f.Total)
	}
}
