package model

// IdentityEvent is the log record the SDK posts on every setID call.
// ConsentString is a pointer so that an explicit empty string (the
// "no consent info" sentinel) still satisfies the required check.
type IdentityEvent struct {
	ID                string   `json:"id" validate:"required"`
	Timestamp         int64    `json:"timestamp" validate:"required"`
	URL               string   `json:"url" validate:"required"`
	ConsentString     *string  `json:"consentString" validate:"required"`
	PreviousID        string   `json:"previousId,omitempty"`
	PublisherSegments []string `json:"publisherSegments,omitempty"`
	Platform          string   `json:"platform,omitempty"`
	CanonicalURL      string   `json:"canonicalUrl,omitempty"`
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
	Keywords          string   `json:"keywords,omitempty"`
}

// Consent returns the consent string, or "" when it was omitted.
func (e *IdentityEvent) Consent() string {
	if e.ConsentString == nil {
		return ""
	}
	return *e.ConsentString
}

// EventProperties is the analytics-oriented blob stored next to the CSV log.
// It is a superset of IdentityEvent with request-derived fields.
type EventProperties struct {
	ID                string   `json:"id"`
	Timestamp         int64    `json:"timestamp"`
	URL               string   `json:"url"`
	Domain            string   `json:"domain"`
	ConsentString     string   `json:"consentString"`
	PreviousID        string   `json:"previousId,omitempty"`
	PublisherSegments []string `json:"publisherSegments,omitempty"`
	Segments          []string `json:"segments"`
	Platform          string   `json:"platform,omitempty"`
	CanonicalURL      string   `json:"canonicalUrl,omitempty"`
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
	Keywords          string   `json:"keywords,omitempty"`
	ClientIP          string   `json:"clientIp,omitempty"`
	UserAgent         string   `json:"userAgent,omitempty"`
}

// IdentityResponse is the wire response for POST /newspassid.
type IdentityResponse struct {
	Success  bool     `json:"success"`
	ID       string   `json:"id"`
	LoadSDK  bool     `json:"loadSdk"`
	Segments []string `json:"segments"`
}

// SegmentRecord is one row of the segments CSV table. A segment is valid
// while ExpireTimestamp (unix ms) is in the future.
type SegmentRecord struct {
	Segments        string `json:"segments"`
	ExpireTimestamp int64  `json:"expire_timestamp"`
}

// RuntimeConfig is the per-decision config blob read from storage.
// Absence of the blob means the SDK never loads.
type RuntimeConfig struct {
	PageViewThreshold      int      `json:"pageViewThreshold"`
	AlwaysLoadSDKAllowList []string `json:"alwaysLoadSDKAllowList"`
}
