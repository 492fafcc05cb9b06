package handler

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/gmg-media/newspassid/internal/model"
	"github.com/gmg-media/newspassid/internal/npid"
	"github.com/gmg-media/newspassid/internal/segments"
	"github.com/gmg-media/newspassid/internal/storage"
)

// idCookieMaxAge is the newspassid cookie lifetime: 400 days, the longest
// expiry modern browsers honor.
const idCookieMaxAge = 400 * 24 * 60 * 60

// IdentityHandler processes POST /newspassid: validate the event, persist
// it, compute valid segments, decide SDK-load eligibility and set cookies.
// One request = one invocation; the handler holds no per-request state.
type IdentityHandler struct {
	Store    storage.ObjectStore
	IDFolder string
	Validate *validator.Validate
	Now      func() time.Time
	Log      zerolog.Logger
}

// NewIdentityHandler wires an IdentityHandler with a validator that reports
// field paths by json tag, matching the wire schema.
func NewIdentityHandler(store storage.ObjectStore, idFolder string, log zerolog.Logger) *IdentityHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &IdentityHandler{
		Store:    store,
		IDFolder: idFolder,
		Validate: v,
		Now:      time.Now,
		Log:      log,
	}
}

type errorResponse struct {
	Success bool `json:"success"`
	Error   any  `json:"error"`
}

type validationIssue struct {
	Code    string   `json:"code"`
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

type validationIssues struct {
	Issues []validationIssue `json:"issues"`
}

// Handle is the POST /newspassid route.
func (h *IdentityHandler) Handle(c echo.Context) error {
	var event model.IdentityEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	if err := h.Validate.Struct(&event); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			issues := make([]validationIssue, 0, len(verrs))
			for _, fe := range verrs {
				issues = append(issues, validationIssue{
					Code:    "invalid_type",
					Path:    []string{fe.Field()},
					Message: fmt.Sprintf("%s is required", fe.Field()),
				})
			}
			return c.JSON(http.StatusBadRequest, errorResponse{Error: validationIssues{Issues: issues}})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	if !npid.ValidateID(event.ID) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid ID format"})
	}

	ctx := c.Request().Context()
	domain := npid.DomainFromURL(event.URL)

	validSegments, err := h.validSegments(c)
	if err != nil {
		h.Log.Error().Err(err).Str("id", event.ID).Msg("read segments table")
		return internalError(c)
	}

	if err := h.writeEventLog(c, &event, domain, validSegments); err != nil {
		h.Log.Error().Err(err).Str("id", event.ID).Str("domain", domain).Msg("write event log")
		return internalError(c)
	}

	// Best-effort multi-write: a properties failure after the log landed is
	// surfaced as a 500 but the log blob is not deleted.
	if err := h.writeProperties(c, &event, domain, validSegments); err != nil {
		h.Log.Error().Err(err).Str("id", event.ID).Str("domain", domain).Msg("write event properties")
		return internalError(c)
	}

	if event.PreviousID != "" && event.PreviousID != event.ID {
		if err := h.writeMapping(c, &event, domain); err != nil {
			h.Log.Error().Err(err).Str("id", event.ID).Str("previous_id", event.PreviousID).Msg("write id mapping")
			return internalError(c)
		}
	}

	setIdentityCookies(c, event.ID, validSegments)

	loadSDK, err := ShouldLoadSDK(ctx, h.Store, h.IDFolder, event.ID, event.URL, h.Now())
	if err != nil {
		h.Log.Error().Err(err).Str("id", event.ID).Msg("sdk eligibility")
		return internalError(c)
	}

	return c.JSON(http.StatusOK, model.IdentityResponse{
		Success:  true,
		ID:       event.ID,
		LoadSDK:  loadSDK,
		Segments: validSegments,
	})
}

// validSegments reads the segment table and filters to unexpired rows. A
// missing table is a legitimate initial state and yields an empty list.
func (h *IdentityHandler) validSegments(c echo.Context) ([]string, error) {
	data, err := h.Store.Get(c.Request().Context(), storage.SegmentsKey(h.IDFolder))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	records, err := segments.ParseTable(data)
	if err != nil {
		return nil, err
	}
	return segments.Valid(records, h.Now()), nil
}

func (h *IdentityHandler) writeEventLog(c echo.Context, event *model.IdentityEvent, domain string, validSegments []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "timestamp", "url", "consentString", "previousId", "segments", "publisherSegments"})
	_ = w.Write([]string{
		event.ID,
		fmt.Sprintf("%d", event.Timestamp),
		event.URL,
		event.Consent(),
		event.PreviousID,
		strings.Join(validSegments, ","),
		strings.Join(event.PublisherSegments, "|"),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	key := storage.EventLogKey(h.IDFolder, domain, event.ID, event.Timestamp)
	return h.Store.Put(c.Request().Context(), key, buf.Bytes(), "text/csv")
}

func (h *IdentityHandler) writeProperties(c echo.Context, event *model.IdentityEvent, domain string, validSegments []string) error {
	props := model.EventProperties{
		ID:                event.ID,
		Timestamp:         event.Timestamp,
		URL:               event.URL,
		Domain:            domain,
		ConsentString:     event.Consent(),
		PreviousID:        event.PreviousID,
		PublisherSegments: event.PublisherSegments,
		Segments:          validSegments,
		Platform:          event.Platform,
		CanonicalURL:      event.CanonicalURL,
		Title:             event.Title,
		Description:       event.Description,
		Keywords:          event.Keywords,
		ClientIP:          c.RealIP(),
		UserAgent:         c.Request().UserAgent(),
	}
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	key := storage.PropertiesKey(h.IDFolder, domain, event.ID, event.Timestamp)
	return h.Store.Put(c.Request().Context(), key, data, "application/json")
}

func (h *IdentityHandler) writeMapping(c echo.Context, event *model.IdentityEvent, domain string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"oldId", "newId", "timestamp"})
	_ = w.Write([]string{event.PreviousID, event.ID, fmt.Sprintf("%d", event.Timestamp)})
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	key := storage.MappingKey(h.IDFolder, domain, event.PreviousID)
	return h.Store.Put(c.Request().Context(), key, buf.Bytes(), "text/csv")
}

// setIdentityCookies sets the long-lived id cookie and the session-scoped
// segment mirror. Cross-site embeds require SameSite=None; Secure, and the
// id cookie stays readable by page scripts (not HTTP-only).
func setIdentityCookies(c echo.Context, id string, validSegments []string) {
	c.SetCookie(&http.Cookie{
		Name:     "newspassid",
		Value:    id,
		Path:     "/",
		MaxAge:   idCookieMaxAge,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	c.SetCookie(&http.Cookie{
		Name:     "npid_segments",
		Value:    strings.Join(validSegments, ","),
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}
