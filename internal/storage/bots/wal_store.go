// Package bots persists bot instances in a write-ahead log. Every state
// change appends a full snapshot of the bot; recovery replays the log and
// keeps the latest snapshot per bot.
package bots

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
)

const (
	DefaultDir   = "./wal/bots"
	segmentLimit = 1000
	maxSegments  = 20

	botKeyPrefix       = "bot_"
	tombstoneKeyPrefix = "bot_deleted_"
)

// WALStore persists bot snapshots in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed bot store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "bot_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init bot WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the current snapshot of the bot.
func (s *WALStore) Save(bot *domain.BotInstance) error {
	if s == nil || s.wal == nil {
		return errors.New("bot store is not initialized")
	}
	if bot.ID == "" {
		return fmt.Errorf("bot ID is required")
	}

	payload, err := json.Marshal(bot)
	if err != nil {
		return errors.Wrap(err, "marshal bot snapshot")
	}

	key := botKeyPrefix + bot.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Delete appends a tombstone for the bot. Replay drops tombstoned bots.
func (s *WALStore) Delete(botID string) error {
	if s == nil || s.wal == nil {
		return errors.New("bot store is not initialized")
	}
	if botID == "" {
		return fmt.Errorf("bot ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, tombstoneKeyPrefix+botID, []byte("{}"))
}

// Load replays the log and returns the latest surviving snapshot per bot.
func (s *WALStore) Load() (map[string]*domain.BotInstance, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("bot store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.BotInstance)

	for msg := range s.wal.Iterator() {
		key := msg.Key
		if strings.HasPrefix(key, tombstoneKeyPrefix) {
			delete(result, strings.TrimPrefix(key, tombstoneKeyPrefix))
			continue
		}
		if !strings.HasPrefix(key, botKeyPrefix) {
			continue
		}

		var bot domain.BotInstance
		if err := json.Unmarshal(msg.Value, &bot); err != nil {
			return nil, errors.Wrapf(err, "decode bot snapshot for key %s", key)
		}
		result[bot.ID] = &bot
	}

	return result, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("bot store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
