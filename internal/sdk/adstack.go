package sdk

import (
	"encoding/json"
	"strings"
)

// targetingKey is the multi-value key set on the ad stack and mirrored to
// storage for other page scripts.
const targetingKey = "npid_segments"

// metaTagPrefix namespaces the injected segment meta tags.
const metaTagPrefix = "newspass_segment_"

// AdStack is the host page's ad-targeting surface. A nil AdStack means the
// page has no ad library; both calls may fail independently and failures
// never propagate out of the SDK.
type AdStack interface {
	// SetTargeting sets a multi-value targeting key on the ad server library.
	SetTargeting(key string, values []string) error
	// SetBidderTargeting pushes targeting through the header-bidding
	// library's async API.
	SetBidderTargeting(targeting map[string][]string) error
}

// PageDOM is the document surface the SDK touches: the shared segments
// global, the body dataset hook and meta tags.
type PageDOM interface {
	SetGlobalSegments(segments []string)
	SetBodyDataset(name, value string) error
	InjectMetaTag(name, content string) error
	RemoveMetaTags(namePrefix string) error
}

// applySegmentsToPage applies a segment list to the hosting page: the
// global array, the storage mirror, ad-stack targeting and the body
// dataset. Each side effect is independent; one failing does not stop the
// rest.
func (c *Client) applySegmentsToPage(segs []string) {
	if c.dom != nil {
		c.dom.SetGlobalSegments(segs)
	}
	c.store.Set(targetingKey, strings.Join(segs, ","))

	if c.adstack != nil {
		if err := c.adstack.SetTargeting(targetingKey, segs); err != nil {
			c.log.Warn().Err(err).Msg("ad server targeting failed")
		}
		if err := c.adstack.SetBidderTargeting(map[string][]string{targetingKey: segs}); err != nil {
			c.log.Warn().Err(err).Msg("header bidding targeting failed")
		}
	}

	if c.dom != nil {
		encoded, err := json.Marshal(segs)
		if err == nil {
			if err := c.dom.SetBodyDataset("newspass_segments", string(encoded)); err != nil {
				c.log.Warn().Err(err).Msg("body dataset write failed")
			}
		}
	}
}

// injectSegmentMetaTags replaces the previously injected segment meta tags
// with one tag per key-value pair. Injection errors are logged, not fatal.
func (c *Client) injectSegmentMetaTags(kv map[string]string) {
	if c.dom == nil {
		return
	}
	if err := c.dom.RemoveMetaTags(metaTagPrefix); err != nil {
		c.log.Warn().Err(err).Msg("meta tag removal failed")
	}
	for key, value := range kv {
		if err := c.dom.InjectMetaTag(metaTagPrefix+key, value); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("meta tag injection failed")
		}
	}
}

func (c *Client) removeSegmentMetaTags() {
	if c.dom == nil {
		return
	}
	if err := c.dom.RemoveMetaTags(metaTagPrefix); err != nil {
		c.log.Warn().Err(err).Msg("meta tag removal failed")
	}
}
