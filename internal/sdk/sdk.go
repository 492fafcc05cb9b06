// Package sdk is the NewsPassID client core: identity lifecycle, consent
// acquisition, the backend round-trip and segment targeting side effects.
// The hosting page's globals (ad stack, DOM, storage) sit behind capability
// interfaces so the core carries its own state and is testable with fakes.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gmg-media/newspassid/internal/model"
	"github.com/gmg-media/newspassid/internal/npid"
	"github.com/gmg-media/newspassid/internal/segments"
)

// defaultStorageKey is where the identifier lives in cookie/local storage.
const defaultStorageKey = "newspassid"

// Config configures an SDK instance for one publisher page.
type Config struct {
	// Namespace is the publisher prefix for generated ids (e.g. "gmg").
	Namespace string
	// Endpoint is the backend identity endpoint (POST).
	Endpoint string
	// StorageKey overrides the identifier storage key.
	StorageKey string
	// InjectMetaTags controls segment meta tag injection; nil means on.
	InjectMetaTags *bool
}

// SetIDOptions are the arguments of one SetID call.
type SetIDOptions struct {
	// ID sets the identifier explicitly instead of using the stored one.
	ID string
	// PublisherSegments are publisher-supplied segments, also the degraded
	// fallback when the backend is unreachable.
	PublisherSegments []string
	// GenerateNewID rotates to a fresh identifier.
	GenerateNewID bool
}

// NewsPassID is the SDK capability surface the boot queue dispatches
// against.
type NewsPassID interface {
	SetID(ctx context.Context, opts SetIDOptions) string
	GetID() (string, bool)
	GetSegments() []string
	GetSegmentsAsKeyValue() map[string]string
	ClearID()
}

// Deps are the client's collaborators. Store and Consent are required; the
// rest default or may be nil (no ad stack / headless DOM).
type Deps struct {
	Store   *IdentityStore
	Consent *ConsentResolver
	AdStack AdStack
	DOM     PageDOM
	HTTP    *http.Client
	Now     func() time.Time
	PageURL func() string
	Log     zerolog.Logger
}

// Client is an SDK instance. Concurrent SetID calls are memory-safe but not
// sequenced: the last response to resolve wins the segment state.
type Client struct {
	cfg     Config
	store   *IdentityStore
	consent *ConsentResolver
	adstack AdStack
	dom     PageDOM
	http    *http.Client
	now     func() time.Time
	pageURL func() string
	log     zerolog.Logger
	Events  Emitter

	mu        sync.Mutex
	segments  []string
	segmentKV map[string]string
}

// New creates an SDK instance. This is the factory the loader calls once
// the core is available.
func New(cfg Config, deps Deps) *Client {
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}
	c := &Client{
		cfg:       cfg,
		store:     deps.Store,
		consent:   deps.Consent,
		adstack:   deps.AdStack,
		dom:       deps.DOM,
		http:      deps.HTTP,
		now:       deps.Now,
		pageURL:   deps.PageURL,
		log:       deps.Log,
		segmentKV: map[string]string{},
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.pageURL == nil {
		c.pageURL = func() string { return "" }
	}
	c.log.Info().Str("namespace", cfg.Namespace).Msg("newspassid initialized")
	return c
}

// SetID resolves the effective identifier, syncs it with the backend and
// applies the resulting segments to the page. It always returns the
// effective id, even in total backend failure; all failures degrade and
// are logged.
func (c *Client) SetID(ctx context.Context, opts SetIDOptions) string {
	storedID, hadStored := c.store.Get(c.cfg.StorageKey)

	userID := opts.ID
	if userID == "" {
		userID = storedID
	}
	if opts.GenerateNewID || userID == "" {
		userID = npid.NewID(c.cfg.Namespace)
	}

	if userID != storedID {
		c.store.Set(c.cfg.StorageKey, userID)
		c.Events.emit(EventChange, ChangeDetail{ID: userID})
	}

	// Identity flow must not block on consent failure.
	consent, ok := c.consent.Resolve(ctx)
	if !ok {
		consent = ""
	}

	payload := model.IdentityEvent{
		ID:            userID,
		Timestamp:     c.now().UnixMilli(),
		URL:           c.pageURL(),
		ConsentString: &consent,
	}
	if opts.ID != "" && hadStored && storedID != opts.ID {
		payload.PreviousID = storedID
	}
	if len(opts.PublisherSegments) > 0 {
		payload.PublisherSegments = opts.PublisherSegments
	}

	resp, err := c.postEvent(ctx, &payload)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to send id to backend")
		// Degraded fallback: apply locally known segments so the page is
		// not left untargeted.
		if len(opts.PublisherSegments) > 0 {
			c.adoptSegments(opts.PublisherSegments)
		}
		return userID
	}

	segs := resp.Segments
	if segs == nil {
		if len(opts.PublisherSegments) > 0 {
			segs = opts.PublisherSegments
		} else {
			segs = []string{}
		}
	}
	c.adoptSegments(segs)
	return userID
}

// adoptSegments replaces the segment state, reapplies page side effects and
// announces readiness.
func (c *Client) adoptSegments(segs []string) {
	kv := segments.KeyValue(segs)

	c.mu.Lock()
	c.segments = append([]string(nil), segs...)
	c.segmentKV = kv
	c.mu.Unlock()

	c.applySegmentsToPage(segs)
	if c.metaTagsEnabled() {
		c.injectSegmentMetaTags(kv)
	}
	c.Events.emit(EventSegmentsReady, SegmentsReadyDetail{
		Segments:        append([]string(nil), segs...),
		SegmentKeyValue: copyKV(kv),
	})
}

// GetID returns the stored identifier without any network traffic.
func (c *Client) GetID() (string, bool) {
	return c.store.Get(c.cfg.StorageKey)
}

// GetSegments returns a copy of the last-known segment list.
func (c *Client) GetSegments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.segments...)
}

// GetSegmentsAsKeyValue returns a copy of the derived targeting map.
func (c *Client) GetSegmentsAsKeyValue() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyKV(c.segmentKV)
}

// ClearID removes the stored identifier and resets segment state. Errors
// are absorbed; ClearID never fails.
func (c *Client) ClearID() {
	c.store.Delete(c.cfg.StorageKey)
	c.mu.Lock()
	c.segments = nil
	c.segmentKV = map[string]string{}
	c.mu.Unlock()
	c.removeSegmentMetaTags()
	c.log.Info().Msg("newspassid cleared")
}

func (c *Client) metaTagsEnabled() bool {
	return c.cfg.InjectMetaTags == nil || *c.cfg.InjectMetaTags
}

func (c *Client) postEvent(ctx context.Context, payload *model.IdentityEvent) (*model.IdentityResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post identity event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}
	var out model.IdentityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}
	return &out, nil
}

func copyKV(kv map[string]string) map[string]string {
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}
