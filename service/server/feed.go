package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/brojonat/txfeed/service/metrics"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/google/uuid"
)

const (
	defaultFeedLimit = 100
	maxCachedFeeds   = 1024
)

// snapshot is the last successful fetch of one feed.
type snapshot struct {
	records   []feed.Record
	fetchedAt time.Time
}

// snapshotCache keeps the last good snapshot per feed so a failed fetch can
// still show records. When full, the oldest snapshot is evicted.
type snapshotCache struct {
	mu      sync.Mutex
	entries map[string]snapshot
	max     int
}

func newSnapshotCache(max int) *snapshotCache {
	return &snapshotCache{entries: make(map[string]snapshot), max: max}
}

func (c *snapshotCache) get(key string) (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *snapshotCache) put(key string, records []feed.Record, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		var oldestKey string
		var oldest time.Time
		for k, s := range c.entries {
			if oldestKey == "" || s.fetchedAt.Before(oldest) {
				oldestKey, oldest = k, s.fetchedAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = snapshot{records: records, fetchedAt: at}
}

func (c *snapshotCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// feedView is one presented feed plus what the renderers need alongside it.
type feedView struct {
	Address      string
	Presentation feed.Presentation
	Recipients   feed.RecipientMap
	Stale        bool
	FetchedAt    time.Time
}

// feedLoader fetches a wallet's records from the store and presents them.
type feedLoader struct {
	store     Store
	presenter *feed.Presenter
	cache     *snapshotCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func newFeedLoader(store Store, presenter *feed.Presenter, m *metrics.Metrics, logger *slog.Logger) *feedLoader {
	return &feedLoader{
		store:     store,
		presenter: presenter,
		cache:     newSnapshotCache(maxCachedFeeds),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// load performs one fetch and presents the result. A failed fetch falls back
// to the cached snapshot of the same feed, if there is one.
func (l *feedLoader) load(ctx context.Context, address string, c feed.Context, limit int32) feedView {
	key := address + "/" + strconv.Itoa(int(limit))

	records, err := l.store.ListRecords(ctx, db.ListRecordsParams{
		WalletAddress: address,
		Limit:         limit,
	})

	view := feedView{Address: address, FetchedAt: l.now()}
	if err != nil {
		l.metrics.RecordFetchError(c.String())
		records = nil
		if snap, ok := l.cache.get(key); ok {
			records = snap.records
			view.Stale = true
			view.FetchedAt = snap.fetchedAt
			l.metrics.RecordStaleServed(c.String())
		}
	} else {
		l.cache.put(key, records, view.FetchedAt)
	}

	view.Presentation = l.presenter.Present(c, false, err, records)
	view.Recipients = l.recipients(ctx, records)
	l.metrics.RecordPresentation(c.String(), view.Presentation.State.String(), len(records))
	return view
}

// loading presents a feed whose first fetch has not completed.
func (l *feedLoader) loading(address string, c feed.Context) feedView {
	return feedView{
		Address:      address,
		Presentation: l.presenter.Present(c, true, nil, nil),
	}
}

// recipients resolves the counterparties of the transfers in records. A
// lookup failure leaves the items on their shortened addresses.
func (l *feedLoader) recipients(ctx context.Context, records []feed.Record) feed.RecipientMap {
	seen := make(map[string]bool)
	var addresses []string
	for _, r := range records {
		if r.Transfer == nil || r.Transfer.Address == "" || seen[r.Transfer.Address] {
			continue
		}
		seen[r.Transfer.Address] = true
		addresses = append(addresses, r.Transfer.Address)
	}
	if len(addresses) == 0 {
		return nil
	}

	m, err := l.store.LookupRecipients(ctx, addresses)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to look up recipients", "count", len(addresses), "error", err)
		return nil
	}
	return m
}

// presentationResponse is the JSON format of a presented feed.
type presentationResponse struct {
	Address   string            `json:"address"`
	Context   feed.Context      `json:"context"`
	State     feed.State        `json:"state"`
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
	Stale     bool              `json:"stale,omitempty"`
	FetchedAt *time.Time        `json:"fetched_at,omitempty"`
	Sections  []sectionResponse `json:"sections,omitempty"`
	Items     []feed.Item       `json:"items,omitempty"`
}

type sectionResponse struct {
	Title string      `json:"title"`
	Items []feed.Item `json:"items"`
}

func viewToResponse(v feedView) presentationResponse {
	p := v.Presentation
	resp := presentationResponse{
		Address: v.Address,
		Context: p.Context,
		State:   p.State,
		Loading: p.Loading,
		Stale:   v.Stale,
	}
	if p.Err != nil {
		resp.Error = "failed to load transaction feed"
	}
	if !v.FetchedAt.IsZero() {
		at := v.FetchedAt.UTC()
		resp.FetchedAt = &at
	}

	switch p.State {
	case feed.StateSectioned:
		resp.Sections = make([]sectionResponse, len(p.Sections))
		for i, s := range p.Sections {
			resp.Sections[i] = sectionResponse{
				Title: s.Title,
				Items: feed.BuildItems(s.Items, p.Context, v.Recipients),
			}
		}
	case feed.StateFlat:
		resp.Items = feed.BuildItems(p.Records, p.Context, v.Recipients)
	}
	return resp
}

// feedParams reads and validates the address, context and limit of a feed request.
func feedParams(r *http.Request, defaultLimit int) (string, feed.Context, int32, error) {
	address := r.PathValue("address")
	if err := validateAddress(address); err != nil {
		return "", 0, 0, err
	}

	c := feed.ContextHome
	if s := r.URL.Query().Get("context"); s != "" {
		parsed, err := feed.ParseContext(s)
		if err != nil {
			return "", 0, 0, errorf("invalid context: must be 'home' or 'exchange'")
		}
		c = parsed
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), int32(defaultLimit))
	if err != nil {
		return "", 0, 0, err
	}
	return address, c, limit, nil
}

// handleGetFeed returns a handler that presents a wallet's feed as JSON.
// A fetch failure is not an HTTP error: the presentation carries it.
// GET /api/v1/feed/{address}?context=home|exchange&limit=N
func handleGetFeed(loader *feedLoader, pageSize int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, c, limit, err := feedParams(r, pageSize)
		if err != nil {
			logger.Debug("invalid feed request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		view := loader.load(r.Context(), address, c, limit)
		logger.Debug("feed presented",
			"address", address,
			"context", c.String(),
			"state", view.Presentation.State.String(),
			"stale", view.Stale,
		)
		writeJSON(w, viewToResponse(view), http.StatusOK)
	})
}

// handleCreateStandby returns a handler that stores an optimistic Pending
// record for a wallet and announces it. A missing hash is generated and a
// missing timestamp defaults to now.
// POST /api/v1/standby
func handleCreateStandby(store Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string          `json:"wallet_address"`
			Record        json.RawMessage `json:"record"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Record) == 0 {
			writeError(w, "record is required", http.StatusBadRequest)
			return
		}

		rec, err := standbyRecord(req.Record, time.Now())
		if err != nil {
			logger.Debug("invalid standby record", "error", err)
			m.RecordStandby("rejected")
			writeError(w, "invalid record: "+err.Error(), http.StatusBadRequest)
			return
		}

		_, err = store.GetRecord(r.Context(), req.WalletAddress, rec.Hash)
		switch {
		case err == nil:
			m.RecordStandby("duplicate")
			writeError(w, "record already exists", http.StatusConflict)
			return
		case !errors.Is(err, db.ErrNotFound):
			logger.Error("failed to check record", "wallet", req.WalletAddress, "hash", rec.Hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if _, err := store.UpsertRecord(r.Context(), req.WalletAddress, rec); err != nil {
			logger.Error("failed to store standby record", "wallet", req.WalletAddress, "hash", rec.Hash, "error", err)
			writeError(w, "failed to store record", http.StatusInternalServerError)
			return
		}
		m.RecordStandby("accepted")

		if publisher != nil {
			start := time.Now()
			err := publisher.PublishRecord(r.Context(), natspkg.NewRecordEvent(req.WalletAddress, natspkg.SourceStandby, rec))
			m.RecordNATSPublish(natspkg.SourceStandby, time.Since(start).Seconds(), err)
			if err != nil {
				logger.Warn("failed to publish standby record", "wallet", req.WalletAddress, "hash", rec.Hash, "error", err)
			}
		}

		logger.Info("standby record stored",
			"wallet", req.WalletAddress,
			"hash", rec.Hash,
			"kind", rec.Kind.String(),
		)
		writeJSON(w, rec, http.StatusCreated)
	})
}

// standbyRecord decodes a client-supplied record as Pending, filling in the
// hash and timestamp when absent.
func standbyRecord(raw json.RawMessage, now time.Time) (feed.Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return feed.Record{}, errorf("record must be a JSON object")
	}

	if h, ok := fields["hash"]; !ok || string(h) == `""` || string(h) == "null" {
		fields["hash"], _ = json.Marshal(uuid.NewString())
	}
	if ts, ok := fields["timestamp"]; !ok || string(ts) == "null" {
		fields["timestamp"], _ = json.Marshal(now.UnixMilli())
	}
	fields["status"], _ = json.Marshal(feed.StatusPending)

	data, err := json.Marshal(fields)
	if err != nil {
		return feed.Record{}, err
	}

	var rec feed.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return feed.Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return feed.Record{}, err
	}
	if rec.Transfer != nil && len(rec.Transfer.Comment) > maxCommentLength {
		return feed.Record{}, errorf("comment too long: maximum length is %d characters", maxCommentLength)
	}
	return rec, nil
}
