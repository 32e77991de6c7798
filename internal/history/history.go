/*
Package history remembers which artifacts have already been notified so later
runs only report new ones.
*/
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
)

const (
	historyFileName = "listscraper_history.json"
	historyDirName  = "listscraper"
)

type History struct {
	UpdatedAt time.Time            `json:"updated_at"`
	Artifacts map[string]time.Time `json:"artifacts"`
}

type Manager struct {
	history         History
	mutex           sync.Mutex
	historyFilePath string
	retention       time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

// NewManager loads history from dir, or a temporary directory when dir is
// empty. Entries older than retention are dropped; zero keeps everything.
func NewManager(dir string, retention time.Duration, logger *zap.Logger) (*Manager, error) {
	return newManager(dir, retention, time.Now, logger)
}

func newManager(dir string, retention time.Duration, now func() time.Time, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), historyDirName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		historyFilePath: filepath.Join(dir, historyFileName),
		retention:       retention,
		now:             now,
		logger:          logger,
	}
	m.loadHistory()
	return m, nil
}

func key(f types.DownloadedFile) string {
	return f.Ref.URL + "|" + f.Checksum
}

func (m *Manager) loadHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.history = History{Artifacts: make(map[string]time.Time)}

	data, err := os.ReadFile(m.historyFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Info("History file not found, starting fresh", zap.String("path", m.historyFilePath))
			return
		}
		m.logger.Warn("Failed to read history file, starting fresh", zap.String("path", m.historyFilePath), zap.Error(err))
		return
	}

	var loaded History
	if err := json.Unmarshal(data, &loaded); err != nil {
		m.logger.Warn("Failed to unmarshal history, starting fresh", zap.String("path", m.historyFilePath), zap.Error(err))
		return
	}

	pruned := 0
	cutoff := m.now().Add(-m.retention)
	for k, seen := range loaded.Artifacts {
		if m.retention > 0 && seen.Before(cutoff) {
			pruned++
			continue
		}
		m.history.Artifacts[k] = seen
	}
	m.history.UpdatedAt = loaded.UpdatedAt

	m.logger.Info("Loaded artifact history",
		zap.Int("artifacts", len(m.history.Artifacts)),
		zap.Int("pruned", pruned),
		zap.String("path", m.historyFilePath))
}

func (m *Manager) saveHistory() error {
	m.history.UpdatedAt = m.now()

	data, err := json.MarshalIndent(m.history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp := m.historyFilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.historyFilePath); err != nil {
		return fmt.Errorf("failed to replace history file %s: %w", m.historyFilePath, err)
	}
	return nil
}

// FilterNew returns the successfully downloaded files not yet notified, in
// input order.
func (m *Manager) FilterNew(files []types.DownloadedFile) []types.DownloadedFile {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var fresh []types.DownloadedFile
	batch := make(map[string]bool)
	for _, f := range files {
		if !f.Succeeded() {
			continue
		}
		k := key(f)
		if _, seen := m.history.Artifacts[k]; seen || batch[k] {
			continue
		}
		batch[k] = true
		fresh = append(fresh, f)
	}
	return fresh
}

// Record marks files as notified and persists the history.
func (m *Manager) Record(files []types.DownloadedFile) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	for _, f := range files {
		if f.Succeeded() {
			m.history.Artifacts[key(f)] = now
		}
	}
	if err := m.saveHistory(); err != nil {
		return err
	}
	m.logger.Info("Saved artifact history", zap.String("path", m.historyFilePath), zap.Int("artifacts", len(m.history.Artifacts)))
	return nil
}

func (m *Manager) HistoryFilePath() string {
	return m.historyFilePath
}
