package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmg-media/newspassid/internal/storage"
)

// fakeStore is an in-memory ObjectStore recording every call.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  map[string]error
	putErr  map[string]error
	gets    []string
	puts    []string
	lists   []string
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: map[string][]byte{},
		getErr:  map[string]error{},
		putErr:  map[string]error{},
	}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	if err, ok := f.getErr[key]; ok {
		return nil, err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return data, nil
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	if err, ok := f.putErr[key]; ok {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, prefix)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

const (
	testID     = "gmg-12345678-1234-4123-8123-123456789012"
	testPrevID = "gmg-87654321-4321-4321-8321-210987654321"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func newTestHandler(store *fakeStore) *IdentityHandler {
	h := NewIdentityHandler(store, "newspassid", zerolog.Nop())
	h.Now = func() time.Time { return testNow }
	return h
}

func postIdentity(t *testing.T, h *IdentityHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/newspassid", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	require.NoError(t, h.Handle(e.NewContext(req, rec)))
	return rec
}

func validBody(extra string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"timestamp": 1234567890,
		"url": "https://www.example.com/story",
		"consentString": "consent123"%s
	}`, testID, extra)
}

func TestHandle_Success(t *testing.T) {
	store := newFakeStore()
	store.objects["newspassid/segments.csv"] = []byte("segments,expire_timestamp\nsegment1,9999999999999\nstale,1\n")
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(`, "publisherSegments": ["seg1", "seg2"]`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, testID, resp["id"])
	assert.Equal(t, false, resp["loadSdk"]) // no config blob → fail closed
	assert.Equal(t, []any{"segment1"}, resp["segments"])

	// One segments read plus the eligibility config probe.
	assert.Equal(t, []string{"newspassid/segments.csv", "config.json"}, store.gets)
	// Event log and properties blob, no mapping without previousId.
	assert.Equal(t, []string{
		"newspassid/publisher/example.com/" + testID + "/1234567890.csv",
		"newspassid/properties/example.com/" + testID + "/1234567890.json",
	}, store.puts)

	logged := string(store.objects["newspassid/publisher/example.com/"+testID+"/1234567890.csv"])
	assert.Contains(t, logged, "id,timestamp,url,consentString,previousId,segments,publisherSegments")
	assert.Contains(t, logged, "segment1")
	assert.Contains(t, logged, "seg1|seg2")
}

func TestHandle_SetsCookies(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(""))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	var idCookie, segCookie *http.Cookie
	for _, ck := range cookies {
		switch ck.Name {
		case "newspassid":
			idCookie = ck
		case "npid_segments":
			segCookie = ck
		}
	}
	require.NotNil(t, idCookie)
	assert.Equal(t, testID, idCookie.Value)
	assert.Equal(t, 400*24*60*60, idCookie.MaxAge)
	assert.True(t, idCookie.Secure)
	assert.Equal(t, http.SameSiteNoneMode, idCookie.SameSite)
	assert.False(t, idCookie.HttpOnly)

	require.NotNil(t, segCookie)
	assert.Zero(t, segCookie.MaxAge)
}

func TestHandle_PreviousIDWritesMapping(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(fmt.Sprintf(`, "previousId": %q`, testPrevID)))
	require.Equal(t, http.StatusOK, rec.Code)

	mappingKey := "newspassid/publisher/example.com/mappings/" + testPrevID + ".csv"
	require.Contains(t, store.puts, mappingKey)
	mapping := string(store.objects[mappingKey])
	assert.Contains(t, mapping, "oldId,newId,timestamp")
	assert.Contains(t, mapping, testPrevID)
	assert.Contains(t, mapping, testID)
}

func TestHandle_PreviousIDEqualsID_NoMapping(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(fmt.Sprintf(`, "previousId": %q`, testID)))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, key := range store.puts {
		assert.NotContains(t, key, "/mappings/")
	}
}

func TestHandle_MissingFields(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := postIdentity(t, h, fmt.Sprintf(`{"id": %q, "timestamp": 1234567890}`, testID))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Issues []struct {
				Code string   `json:"code"`
				Path []string `json:"path"`
			} `json:"issues"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)

	var paths []string
	for _, issue := range resp.Error.Issues {
		require.Len(t, issue.Path, 1)
		paths = append(paths, issue.Path[0])
	}
	assert.Contains(t, paths, "url")
	assert.Contains(t, paths, "consentString")
	assert.Empty(t, store.puts, "nothing persisted on validation failure")
}

func TestHandle_EmptyConsentStringIsValid(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := fmt.Sprintf(`{"id": %q, "timestamp": 1234567890, "url": "https://example.com", "consentString": ""}`, testID)
	rec := postIdentity(t, h, body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandle_InvalidIDFormat(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := `{"id": "invalid-id-without-uuid", "timestamp": 1234567890, "url": "https://example.com", "consentString": "c"}`
	rec := postIdentity(t, h, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Invalid ID format", resp["error"])
}

func TestHandle_SegmentReadFailure(t *testing.T) {
	store := newFakeStore()
	store.getErr["newspassid/segments.csv"] = fmt.Errorf("connection reset")
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(""))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp["error"])
	assert.Empty(t, store.puts)
}

func TestHandle_PropertiesWriteFailureKeepsEventLog(t *testing.T) {
	// Writes are best effort: the properties failure surfaces as a 500 but
	// the already-written event log is not compensated away.
	store := newFakeStore()
	logKey := "newspassid/publisher/example.com/" + testID + "/1234567890.csv"
	propsKey := "newspassid/properties/example.com/" + testID + "/1234567890.json"
	store.putErr[propsKey] = fmt.Errorf("write denied")
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(""))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, store.objects, logKey)
}

func TestHandle_UnparseableURLUsesUnknownDomain(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := fmt.Sprintf(`{"id": %q, "timestamp": 1234567890, "url": "not a url", "consentString": "c"}`, testID)
	rec := postIdentity(t, h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, store.puts, "newspassid/publisher/unknown/"+testID+"/1234567890.csv")
}

func TestHandle_PropertiesIncludeRequestContext(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := postIdentity(t, h, validBody(`, "platform": "web", "title": "Story"`))
	require.Equal(t, http.StatusOK, rec.Code)

	props := store.objects["newspassid/properties/example.com/"+testID+"/1234567890.json"]
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(props, &decoded))
	assert.Equal(t, "example.com", decoded["domain"])
	assert.Equal(t, "test-agent", decoded["userAgent"])
	assert.Equal(t, "web", decoded["platform"])
	assert.Equal(t, "Story", decoded["title"])
	assert.NotEmpty(t, decoded["clientIp"])
}
