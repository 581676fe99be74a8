// Package identity assigns a single person_id per real person across
// channels, backed by a KV-compatible embedding catalog with an
// in-process fallback for when that store is unreachable.
package identity

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/technosupport/peoplecounter/internal/kv"
	"github.com/technosupport/peoplecounter/internal/metrics"
)

const (
	defaultSimilarityThreshold = 0.75
	defaultTrackTTL            = 24 * time.Hour
	scanCount                  = 100
)

type personRecord struct {
	PersonID  string    `json:"person_id"`
	Embedding []float32 `json:"embedding"`
	UpdatedAt float64   `json:"updated_at"`
}

type dailyCounts struct {
	Enter int `json:"enter"`
	Exit  int `json:"exit"`
}

// Manager resolves cross-channel person identity. A single Manager
// instance is shared read-mostly across every channel worker in the
// process.
type Manager struct {
	store               kv.Store
	similarityThreshold float64
	trackTTL            time.Duration
	loc                 *time.Location
	now                 func() time.Time

	mu               sync.Mutex
	degraded         bool
	fallbackPersons  map[string][]float32
	fallbackTracks   map[string]string
	fallbackDaily    map[string]dailyCounts
	fallbackNextSeen int
}

// Option configures a Manager away from its defaults.
type Option func(*Manager)

// WithSimilarityThreshold overrides the cosine-similarity match threshold
// (default 0.75).
func WithSimilarityThreshold(t float64) Option {
	return func(m *Manager) { m.similarityThreshold = t }
}

// WithTrackTTL overrides the (channel,track)->person_id mapping TTL
// (default 24h).
func WithTrackTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.trackTTL = ttl }
}

// WithTimezone overrides the location used to compute the daily-counter date
// key (default UTC). The midnight-rollover TTL in CheckDailyCount is computed
// against this same location.
func WithTimezone(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// New builds a Manager over the given Store.
func New(store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		store:               store,
		similarityThreshold: defaultSimilarityThreshold,
		trackTTL:            defaultTrackTTL,
		loc:                 time.UTC,
		now:                 time.Now,
		fallbackPersons:     map[string][]float32{},
		fallbackTracks:      map[string]string{},
		fallbackDaily:       map[string]dailyCounts{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Degraded reports whether the manager is currently operating against its
// in-process fallback rather than the KV store.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Manager) setDegraded(v bool) {
	m.mu.Lock()
	m.degraded = v
	m.mu.Unlock()
	metrics.SetKVDegraded(v)
	if v {
		metrics.RecordKVError()
	}
}

func keyPersonIdentity(personID string) string {
	return fmt.Sprintf("person:identity:%s", personID)
}

func keyTrackMapping(channelID, trackID int) string {
	return fmt.Sprintf("person:track:%d:%d", channelID, trackID)
}

func keyGlobalCounter(personID, dateStr string) string {
	return fmt.Sprintf("person:counter:global:%s:%s", personID, dateStr)
}

func fallbackTrackKey(channelID, trackID int) string {
	return fmt.Sprintf("%d:%d", channelID, trackID)
}

// GetOrAssign resolves the person_id for (channelID, trackID) given the
// track's latest embedding, assigning one if none exists yet. It returns
// nil iff embedding is empty.
func (m *Manager) GetOrAssign(ctx context.Context, channelID, trackID int, embedding []float32) *string {
	if len(embedding) == 0 {
		return nil
	}

	if existing, ok := m.getTrackPersonID(ctx, channelID, trackID); ok {
		return &existing
	}

	if matched, ok := m.matchPerson(ctx, embedding); ok {
		m.setTrackPersonID(ctx, channelID, trackID, matched)
		return &matched
	}

	personID := m.generatePersonID(channelID, trackID)
	m.setPersonEmbedding(ctx, personID, embedding)
	m.setTrackPersonID(ctx, channelID, trackID, personID)
	return &personID
}

func (m *Manager) generatePersonID(channelID, trackID int) string {
	epoch := m.now().Unix()
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%d_%d", channelID, trackID, epoch)))
	return fmt.Sprintf("P%d_%s", channelID, hex.EncodeToString(sum[:])[:8])
}

func (m *Manager) getTrackPersonID(ctx context.Context, channelID, trackID int) (string, bool) {
	if val, err := m.store.Get(ctx, keyTrackMapping(channelID, trackID)); err == nil {
		m.setDegraded(false)
		return val, true
	} else if err != kv.ErrNotFound {
		log.Printf("[ERROR] identity: kv get track mapping failed: %v", err)
		m.setDegraded(true)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	personID, ok := m.fallbackTracks[fallbackTrackKey(channelID, trackID)]
	return personID, ok
}

func (m *Manager) setTrackPersonID(ctx context.Context, channelID, trackID int, personID string) {
	if err := m.store.SetEX(ctx, keyTrackMapping(channelID, trackID), personID, m.trackTTL); err != nil {
		log.Printf("[ERROR] identity: kv setex track mapping failed: %v", err)
		m.setDegraded(true)
	} else {
		m.setDegraded(false)
	}

	m.mu.Lock()
	m.fallbackTracks[fallbackTrackKey(channelID, trackID)] = personID
	m.mu.Unlock()
}

func (m *Manager) setPersonEmbedding(ctx context.Context, personID string, embedding []float32) {
	rec := personRecord{PersonID: personID, Embedding: embedding, UpdatedAt: float64(m.now().UnixNano()) / 1e9}
	if payload, err := json.Marshal(rec); err == nil {
		if err := m.store.SetEX(ctx, keyPersonIdentity(personID), string(payload), m.trackTTL); err != nil {
			log.Printf("[ERROR] identity: kv setex person embedding failed: %v", err)
			m.setDegraded(true)
		} else {
			m.setDegraded(false)
		}
	}

	m.mu.Lock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	m.fallbackPersons[personID] = cp
	m.mu.Unlock()
}

// matchPerson scans the catalog (KV first, then the in-memory fallback) and
// returns the best cosine-similarity match, if it clears the threshold.
// Ordering of scan is unspecified; ties are broken by first-seen in scan
// order, matching the catalog's own iteration order.
func (m *Manager) matchPerson(ctx context.Context, embedding []float32) (string, bool) {
	bestID := ""
	bestSim := 0.0

	cursor := uint64(0)
	scanFailed := false
	for {
		keys, next, err := m.store.Scan(ctx, cursor, "person:identity:*", scanCount)
		if err != nil {
			log.Printf("[ERROR] identity: kv scan failed: %v", err)
			m.setDegraded(true)
			scanFailed = true
			break
		}
		for _, key := range keys {
			raw, err := m.store.Get(ctx, key)
			if err != nil {
				continue
			}
			var rec personRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			if sim := cosineSimilarity(embedding, rec.Embedding); sim > bestSim {
				bestSim = sim
				bestID = rec.PersonID
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if !scanFailed {
		m.setDegraded(false)
	}

	m.mu.Lock()
	for personID, emb := range m.fallbackPersons {
		if sim := cosineSimilarity(embedding, emb); sim > bestSim {
			bestSim = sim
			bestID = personID
		}
	}
	m.mu.Unlock()

	if bestID != "" && bestSim >= m.similarityThreshold {
		return bestID, true
	}
	return "", false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA < 1e-9 || normB < 1e-9 {
		return 0
	}
	return dot / (normA * normB)
}

// dateKey returns today's date in YYYY-MM-DD, in the manager's configured
// timezone (UTC by default; override with WithTimezone).
func (m *Manager) dateKey() string {
	return m.now().In(m.loc).Format("2006-01-02")
}

// CheckDailyCount enforces at most one enter and one exit per
// (person_id, date), globally across every channel and zone.
func (m *Manager) CheckDailyCount(ctx context.Context, personID, eventType string) (mayCount bool, counts dailyCounts) {
	dateStr := m.dateKey()
	key := keyGlobalCounter(personID, dateStr)

	raw, err := m.store.Get(ctx, key)
	useFallback := false
	switch {
	case err == nil:
		m.setDegraded(false)
		if jsonErr := json.Unmarshal([]byte(raw), &counts); jsonErr != nil {
			counts = dailyCounts{}
		}
	case err == kv.ErrNotFound:
		m.setDegraded(false)
		counts = dailyCounts{}
	default:
		log.Printf("[ERROR] identity: kv get daily counter failed: %v", err)
		m.setDegraded(true)
		useFallback = true
	}

	fallbackKey := personID + ":" + dateStr
	if useFallback {
		m.mu.Lock()
		counts = m.fallbackDaily[fallbackKey]
		m.mu.Unlock()
	}

	if already(counts, eventType) {
		return false, counts
	}

	counts = bump(counts, eventType)

	if !useFallback {
		ttl := m.ttlUntilMidnight()
		if payload, jsonErr := json.Marshal(counts); jsonErr == nil {
			if err := m.store.SetEX(ctx, key, string(payload), ttl); err != nil {
				log.Printf("[ERROR] identity: kv setex daily counter failed: %v", err)
				m.setDegraded(true)
			}
		}
	}

	m.mu.Lock()
	m.fallbackDaily[fallbackKey] = counts
	m.mu.Unlock()

	return true, counts
}

func already(c dailyCounts, eventType string) bool {
	if eventType == "enter" {
		return c.Enter >= 1
	}
	return c.Exit >= 1
}

func bump(c dailyCounts, eventType string) dailyCounts {
	if eventType == "enter" {
		c.Enter = 1
	} else {
		c.Exit = 1
	}
	return c
}

// ttlUntilMidnight returns the time remaining until the next midnight in the
// manager's configured timezone, so the KV TTL expires in step with the
// date key dateKey produces rather than a fixed UTC day boundary.
func (m *Manager) ttlUntilMidnight() time.Duration {
	now := m.now().In(m.loc)
	year, month, day := now.Date()
	nextMidnight := time.Date(year, month, day+1, 0, 0, 0, 0, m.loc)
	remaining := nextMidnight.Sub(now)
	if remaining < time.Hour {
		remaining = 24 * time.Hour
	}
	return remaining
}

// DailyCountsAll returns every person's counts for today, scanning the
// global-counter key space. Used to compute the dashboard's
// global_unique_persons_today aggregate.
func (m *Manager) DailyCountsAll(ctx context.Context) map[string]dailyCounts {
	dateStr := m.dateKey()
	pattern := fmt.Sprintf("person:counter:global:*:%s", dateStr)

	out := map[string]dailyCounts{}
	cursor := uint64(0)
	for {
		keys, next, err := m.store.Scan(ctx, cursor, pattern, scanCount)
		if err != nil {
			log.Printf("[ERROR] identity: kv scan daily counters failed: %v", err)
			m.setDegraded(true)
			break
		}
		for _, key := range keys {
			raw, err := m.store.Get(ctx, key)
			if err != nil {
				continue
			}
			var c dailyCounts
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				continue
			}
			personID := extractPersonID(key, dateStr)
			if personID != "" {
				out[personID] = c
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	m.mu.Lock()
	suffix := ":" + dateStr
	for fk, c := range m.fallbackDaily {
		if len(fk) > len(suffix) && fk[len(fk)-len(suffix):] == suffix {
			personID := fk[:len(fk)-len(suffix)]
			if _, already := out[personID]; !already {
				out[personID] = c
			}
		}
	}
	m.mu.Unlock()

	return out
}

func extractPersonID(key, dateStr string) string {
	const prefix = "person:counter:global:"
	suffix := ":" + dateStr
	if len(key) <= len(prefix)+len(suffix) {
		return ""
	}
	if key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
		return ""
	}
	return key[len(prefix) : len(key)-len(suffix)]
}

// ResetDaily clears the in-process daily-count fallback; KV entries expire
// naturally via their TTL.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	m.fallbackDaily = map[string]dailyCounts{}
	m.mu.Unlock()
}
