package braze

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	batches [][]UserAttributes
	failOn  int // 1-based batch index to fail; 0 = never
}

func (f *fakeTracker) Track(_ context.Context, batch []UserAttributes) error {
	f.batches = append(f.batches, batch)
	if f.failOn > 0 && len(f.batches) == f.failOn {
		return fmt.Errorf("braze api error: 500")
	}
	return nil
}

func makeMessages(n int) []Message {
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, Message{
			ID:   fmt.Sprintf("msg-%d", i),
			Body: fmt.Sprintf(`{"userId":"user-%d","attributes":{"email":"u%d@example.com"}}`, i, i),
		})
	}
	return msgs
}

func TestProcess_BatchesOfFifty(t *testing.T) {
	tracker := &fakeTracker{}
	p := &Processor{API: tracker, Log: zerolog.Nop()}

	require.NoError(t, p.Process(context.Background(), makeMessages(120)))

	require.Len(t, tracker.batches, 3)
	assert.Len(t, tracker.batches[0], 50)
	assert.Len(t, tracker.batches[1], 50)
	assert.Len(t, tracker.batches[2], 20)
	assert.Equal(t, "user-0", tracker.batches[0][0].ExternalID)
	assert.Equal(t, "u0@example.com", tracker.batches[0][0].Email)
}

func TestProcess_BatchFailureErrorsDelivery(t *testing.T) {
	tracker := &fakeTracker{failOn: 2}
	p := &Processor{API: tracker, Log: zerolog.Nop()}

	err := p.Process(context.Background(), makeMessages(120))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 2/3")
}

func TestProcess_ParseFailureErrorsAfterUpserts(t *testing.T) {
	// Good records still go out; the delivery then errors so the queue
	// redelivers the whole batch. The upsert is idempotent, so the replay
	// is safe.
	tracker := &fakeTracker{}
	p := &Processor{API: tracker, Log: zerolog.Nop()}

	msgs := makeMessages(2)
	msgs = append(msgs, Message{ID: "bad", Body: "{not json"})

	err := p.Process(context.Background(), msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse 1 messages")
	require.Len(t, tracker.batches, 1)
	assert.Len(t, tracker.batches[0], 2)
}

func TestProcess_EmptyDelivery(t *testing.T) {
	tracker := &fakeTracker{}
	p := &Processor{API: tracker, Log: zerolog.Nop()}
	require.NoError(t, p.Process(context.Background(), nil))
	assert.Empty(t, tracker.batches)
}

func TestAPIClient_Track(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		assert.Equal(t, "/users/track", r.URL.Path)
		fmt.Fprint(w, `{"message":"success"}`)
	}))
	defer srv.Close()

	c := &APIClient{HTTP: srv.Client(), RESTEndpoint: srv.URL, APIKey: "key123"}
	err := c.Track(context.Background(), []UserAttributes{{ExternalID: "user-1"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key123", gotAuth)
	assert.Contains(t, gotBody, `"external_id":"user-1"`)
}

func TestAPIClient_TrackNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &APIClient{HTTP: srv.Client(), RESTEndpoint: srv.URL, APIKey: "key123"}
	err := c.Track(context.Background(), []UserAttributes{{ExternalID: "user-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

type fakeQueue struct {
	sent    []string
	dedups  []string
	sendErr error
}

func (q *fakeQueue) Send(_ context.Context, body, _, dedupID string) (string, error) {
	if q.sendErr != nil {
		return "", q.sendErr
	}
	q.sent = append(q.sent, body)
	q.dedups = append(q.dedups, dedupID)
	return fmt.Sprintf("mid-%d", len(q.sent)), nil
}

func (q *fakeQueue) Receive(_ context.Context, _ int) ([]Message, error) { return nil, nil }
func (q *fakeQueue) Delete(_ context.Context, _ string) error           { return nil }

func postUsers(t *testing.T, s *Sender, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/braze/users", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Handle(e.NewContext(req, rec)))
	return rec
}

func TestSender_EnqueuesUpdate(t *testing.T) {
	queue := &fakeQueue{}
	s := &Sender{Queue: queue, Now: func() time.Time { return time.UnixMilli(1_700_000_000_000) }, Log: zerolog.Nop()}

	rec := postUsers(t, s, `{"userId":"user-1","attributes":{"email":"a@b.com"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mid-1")
	require.Len(t, queue.sent, 1)
	assert.Contains(t, queue.sent[0], `"userId":"user-1"`)
	assert.Len(t, queue.dedups[0], 64, "hex sha256 dedup id")
}

func TestSender_MissingUserID(t *testing.T) {
	queue := &fakeQueue{}
	s := &Sender{Queue: queue, Now: time.Now, Log: zerolog.Nop()}

	rec := postUsers(t, s, `{"attributes":{"email":"a@b.com"}}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "userId is required")
	assert.Empty(t, queue.sent)
}

func TestSender_QueueFailure(t *testing.T) {
	queue := &fakeQueue{sendErr: fmt.Errorf("queue unavailable")}
	s := &Sender{Queue: queue, Now: time.Now, Log: zerolog.Nop()}

	rec := postUsers(t, s, `{"userId":"user-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
