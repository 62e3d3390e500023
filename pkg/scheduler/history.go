package scheduler

import (
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// executionSample is the persisted row backing the EWMA estimator (§4.4:
// "historical execution times feed a simple exponentially-weighted moving
// average"). Table layout follows db/postgres.go's RabbitLog: an embedded
// gorm.Model plus the fields the scheduler actually queries on.
type executionSample struct {
	gorm.Model
	TargetID   string `gorm:"index"`
	DurationMs int64
	EWMAMs     float64
}

// ewmaAlpha matches §4.4's "alpha ~= 0.3 for new samples".
const ewmaAlpha = 0.3

// HistoryStore persists per-target EWMA execution times across scheduler
// restarts, the way db/postgres.go opens a *gorm.DB against Postgres and
// AutoMigrates its log table on startup.
type HistoryStore struct {
	db *gorm.DB

	mu    sync.Mutex
	cache map[string]float64 // in-memory mirror to avoid a query per dispatch decision
}

// OpenHistoryStore connects to Postgres at pgURL and ensures the execution
// history table exists.
func OpenHistoryStore(pgURL string) (*HistoryStore, error) {
	db, err := gorm.Open(postgres.Open(pgURL), &gorm.Config{})
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "scheduler.OpenHistoryStore", pgURL, err)
	}
	if err := db.AutoMigrate(&executionSample{}); err != nil {
		return nil, ferr.New(ferr.KindNetwork, "scheduler.OpenHistoryStore", pgURL, err)
	}

	hs := &HistoryStore{db: db, cache: make(map[string]float64)}
	var rows []executionSample
	if err := db.Order("id desc").Find(&rows).Error; err == nil {
		for _, r := range rows {
			if _, ok := hs.cache[r.TargetID]; !ok {
				hs.cache[r.TargetID] = r.EWMAMs
			}
		}
	}
	return hs, nil
}

// Record folds a new duration sample into the target's EWMA and persists
// the updated value.
func (h *HistoryStore) Record(targetID string, durationMs int64) float64 {
	h.mu.Lock()
	prev, ok := h.cache[targetID]
	next := float64(durationMs)
	if ok {
		next = ewmaAlpha*float64(durationMs) + (1-ewmaAlpha)*prev
	}
	h.cache[targetID] = next
	h.mu.Unlock()

	h.db.Create(&executionSample{TargetID: targetID, DurationMs: durationMs, EWMAMs: next})
	return next
}

// Estimate returns the current EWMA for targetID, or 0 if no samples exist
// yet (a cold target contributes no critical-path bias until it has run
// once).
func (h *HistoryStore) Estimate(targetID string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache[targetID]
}
