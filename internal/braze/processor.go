package braze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// batchSize is the Braze /users/track limit per request.
const batchSize = 50

// UserAttributes is one Braze user-attribute upsert record.
type UserAttributes struct {
	ExternalID       string         `json:"external_id"`
	Email            string         `json:"email,omitempty"`
	FirstName        string         `json:"first_name,omitempty"`
	LastName         string         `json:"last_name,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// QueueMessage is the body of one queued profile update.
type QueueMessage struct {
	UserID     string `json:"userId"`
	Attributes struct {
		Email            string         `json:"email,omitempty"`
		FirstName        string         `json:"first_name,omitempty"`
		LastName         string         `json:"last_name,omitempty"`
		CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
	} `json:"attributes"`
}

// APIClient posts attribute batches to the Braze REST API.
type APIClient struct {
	HTTP         *http.Client
	RESTEndpoint string
	APIKey       string
}

// Track upserts up to batchSize user records. The upsert is idempotent, so
// redelivered messages are safe to replay.
func (c *APIClient) Track(ctx context.Context, batch []UserAttributes) error {
	payload, err := json.Marshal(map[string]any{"attributes": batch})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RESTEndpoint+"/users/track", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("braze users/track: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("braze api error: %d - %s", resp.StatusCode, string(body))
	}
	return nil
}

// Tracker is the subset of APIClient the processor needs.
type Tracker interface {
	Track(ctx context.Context, batch []UserAttributes) error
}

// Processor drains the queue and upserts user attributes in batches.
type Processor struct {
	Queue Queue
	API   Tracker
	Log   zerolog.Logger
}

// Process handles one delivery of messages. Records are all parsed first,
// then upserted in chunks of batchSize. Any batch failure or any unparseable
// message errors the whole delivery so the queue redelivers it; the handler
// must therefore tolerate replays, which the Braze upsert does.
func (p *Processor) Process(ctx context.Context, msgs []Message) error {
	p.Log.Info().Int("messages", len(msgs)).Msg("processing queue messages")

	var attrs []UserAttributes
	parseFailures := 0
	for _, m := range msgs {
		var qm QueueMessage
		if err := json.Unmarshal([]byte(m.Body), &qm); err != nil {
			p.Log.Error().Err(err).Str("message_id", m.ID).Msg("parse queue message")
			parseFailures++
			continue
		}
		attrs = append(attrs, UserAttributes{
			ExternalID:       qm.UserID,
			Email:            qm.Attributes.Email,
			FirstName:        qm.Attributes.FirstName,
			LastName:         qm.Attributes.LastName,
			CustomAttributes: qm.Attributes.CustomAttributes,
		})
	}

	batches := chunk(attrs, batchSize)
	for i, batch := range batches {
		if err := p.API.Track(ctx, batch); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		p.Log.Info().Int("batch", i+1).Int("of", len(batches)).Int("users", len(batch)).Msg("batch upserted")
	}

	if parseFailures > 0 {
		return fmt.Errorf("failed to parse %d messages", parseFailures)
	}
	return nil
}

// Run polls the queue until the context is cancelled. Messages are deleted
// only after the whole delivery processed cleanly.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := p.Queue.Receive(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Error().Err(err).Msg("receive queue messages")
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := p.Process(ctx, msgs); err != nil {
			p.Log.Error().Err(err).Msg("process delivery; queue will redeliver")
			continue
		}
		for _, m := range msgs {
			if err := p.Queue.Delete(ctx, m.ReceiptHandle); err != nil {
				p.Log.Error().Err(err).Str("message_id", m.ID).Msg("delete queue message")
			}
		}
	}
}

func chunk(attrs []UserAttributes, size int) [][]UserAttributes {
	var out [][]UserAttributes
	for start := 0; start < len(attrs); start += size {
		end := start + size
		if end > len(attrs) {
			end = len(attrs)
		}
		out = append(out, attrs[start:end])
	}
	return out
}
