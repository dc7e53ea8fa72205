package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"asset-monitor-backend/config"
	"asset-monitor-backend/internal/ledger"
	"asset-monitor-backend/internal/model"
)

const gatewayLayout = "2006-01-02 15:04:05"

// Appender is the write side of the event ledger.
type Appender interface {
	Append(ctx context.Context, ev model.Event) (model.Event, error)
}

// Result summarizes one collection cycle.
type Result struct {
	Fetched    int
	Appended   int
	Duplicates int
	Rejected   int
}

// Service polls the logger gateway and feeds new events into the ledger.
type Service struct {
	cfg    *config.CollectorConfig
	ledger Appender
	client *http.Client
	loc    *time.Location
	since  time.Time
}

// NewService creates and initializes a new collector service.
func NewService(cfg *config.CollectorConfig, ledger Appender) *Service {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Collector will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("Warning: failed to load timezone %q: %v. Using UTC.", cfg.Timezone, err)
		loc = time.UTC
	}

	return &Service{
		cfg:    cfg,
		ledger: ledger,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		loc:   loc,
		since: time.Now().UTC().Add(-time.Duration(cfg.LookbackMinutes) * time.Minute),
	}
}

// Since returns the cursor sent with the next poll.
func (s *Service) Since() time.Time {
	return s.since
}

// Run starts the collection loop and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Collector is disabled. Not starting.")
		return
	}
	log.Println("Starting collector service...")

	s.CollectOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Collector service shutting down.")
			return
		case <-timer.C:
			s.CollectOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// CollectOnce fetches every page newer than the cursor and appends the events
// in timestamp order. Events the ledger already holds are skipped quietly.
func (s *Service) CollectOnce(ctx context.Context) Result {
	var res Result

	var items []GatewayEvent
	total := 1
	pageSize := s.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page, pageSize)
		if err != nil {
			log.Printf("Error fetching page %d: %v", page, err)
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		items = append(items, resp.Data.Items...)
	}
	res.Fetched = len(items)

	if fetchErr != nil && len(items) == 0 {
		log.Println("Collect cycle aborted due to fetch error with no events retrieved.")
		return res
	}

	events := make([]model.Event, 0, len(items))
	for _, item := range items {
		ev, err := s.toEvent(item)
		if err != nil {
			log.Printf("Warning: skipping gateway event for asset %q: %v", item.AssetID, err)
			res.Rejected++
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	cursor := s.since
	for _, ev := range events {
		_, err := s.ledger.Append(ctx, ev)
		switch {
		case err == nil:
			res.Appended++
		case errors.Is(err, ledger.ErrDuplicateEvent):
			res.Duplicates++
		default:
			log.Printf("Warning: ledger rejected event for asset %s: %v", ev.AssetID, err)
			res.Rejected++
		}
		if ev.Timestamp.After(cursor) {
			cursor = ev.Timestamp
		}
	}
	// Only a complete fetch may move the cursor, otherwise a later page would be skipped.
	if fetchErr == nil {
		s.since = cursor
	}

	log.Printf("Collect cycle finished: fetched=%d appended=%d duplicates=%d rejected=%d",
		res.Fetched, res.Appended, res.Duplicates, res.Rejected)
	return res
}

func (s *Service) toEvent(item GatewayEvent) (model.Event, error) {
	ts, err := s.parseTimestamp(item.Timestamp)
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		AssetID:         strings.TrimSpace(item.AssetID),
		EventType:       model.EventType(strings.ToUpper(item.EventType)),
		PreviousState:   model.AssetState(strings.ToUpper(item.PreviousState)),
		NewState:        model.AssetState(strings.ToUpper(item.NewState)),
		Timestamp:       ts,
		DurationSeconds: item.DurationSeconds,
	}, nil
}

// parseTimestamp accepts RFC 3339 or the gateway's local layout, respecting the configured timezone.
func (s *Service) parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(gatewayLayout, raw, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// fetchPage fetches a single page of events from the gateway.
func (s *Service) fetchPage(ctx context.Context, page, pageSize int) (*GatewayResponse, error) {
	payload := make(map[string]any)
	for k, v := range s.cfg.Payload {
		payload[k] = v
	}
	payload["page"] = page
	payload["pageSize"] = pageSize
	payload["since"] = s.since.Format(time.RFC3339)

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var gwResp GatewayResponse
	if err := json.Unmarshal(body, &gwResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway response: %w", err)
	}

	if gwResp.Code != 0 {
		return nil, fmt.Errorf("gateway returned non-zero application code: %d", gwResp.Code)
	}

	return &gwResp, nil
}
