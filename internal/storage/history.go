package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record kinds.
const (
	KindMetadata = "metadata"
	KindSentence = "sentence"
	KindEvent    = "event"
)

var (
	ErrInvalidName = errors.New("invalid history name")
	ErrNotFound    = errors.New("history not found")
)

// WordRecord is one recognized word.
type WordRecord struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// Record is one line of a recognition history.
type Record struct {
	Kind      string       `json:"kind"`
	Timestamp string       `json:"timestamp"`
	Text      string       `json:"text,omitempty"`
	Score     float64      `json:"score,omitempty"`
	Words     []WordRecord `json:"words,omitempty"`
	Tag       string       `json:"tag,omitempty"`
	Addr      string       `json:"addr,omitempty"`
}

// HistoryInfo summarizes one history file.
type HistoryInfo struct {
	UID          string `json:"uid"`
	LatestRecord Record `json:"latest_record"`
	Count        int    `json:"count"`
	Timestamp    string `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Store keeps one JSON file per bridge session under baseDir/engine.
type Store struct {
	mu      sync.Mutex
	baseDir string
	engine  string
	now     func() time.Time
}

// NewStore validates the location and creates the engine directory.
func NewStore(baseDir string, engine string) (*Store, error) {
	s := &Store{baseDir: baseDir, engine: engine, now: time.Now}
	if _, err := s.ensureDir(); err != nil {
		return nil, err
	}
	return s, nil
}

// Create starts a history with a metadata record and returns its uid.
func (s *Store) Create(meta Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.ensureDir()
	if err != nil {
		return "", err
	}
	now := s.now()
	uid := now.Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta.Kind = KindMetadata
	if meta.Timestamp == "" {
		meta.Timestamp = now.Format(time.RFC3339Nano)
	}
	if err := writeHistory(filepath.Join(dir, uid+".json"), []Record{meta}); err != nil {
		return "", err
	}
	return uid, nil
}

// Append adds rec to an existing history.
func (s *Store) Append(uid string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.historyPath(uid)
	if err != nil {
		return err
	}
	records, err := readHistory(path)
	if err != nil {
		return err
	}
	if rec.Timestamp == "" {
		rec.Timestamp = s.now().Format(time.RFC3339Nano)
	}
	return writeHistory(path, append(records, rec))
}

// Get returns the records of a history without its metadata.
func (s *Store) Get(uid string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.historyPath(uid)
	if err != nil {
		return nil, err
	}
	records, err := readHistory(path)
	if err != nil {
		return nil, err
	}
	filtered := []Record{}
	for _, rec := range records {
		if rec.Kind == KindMetadata {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

// Delete removes a history and reports whether it existed.
func (s *Store) Delete(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.historyPath(uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// List returns every history, newest first. Histories holding only metadata
// are summarized by their metadata record.
func (s *Store) List() []HistoryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []HistoryInfo{}
	dir, err := s.ensureDir()
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		records, err := readHistory(filepath.Join(dir, entry.Name()))
		if err != nil || len(records) == 0 {
			continue
		}
		latest := records[len(records)-1]
		list = append(list, HistoryInfo{
			UID:          strings.TrimSuffix(entry.Name(), ".json"),
			LatestRecord: latest,
			Count:        len(records) - 1,
			Timestamp:    latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func (s *Store) ensureDir() (string, error) {
	if s.baseDir == "" {
		return "", errors.New("history base dir is empty")
	}
	if !safeNamePattern.MatchString(s.engine) {
		return "", fmt.Errorf("%w: engine %q", ErrInvalidName, s.engine)
	}
	path := filepath.Join(s.baseDir, s.engine)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) historyPath(uid string) (string, error) {
	if !safeNamePattern.MatchString(uid) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, uid)
	}
	return filepath.Join(s.baseDir, s.engine, uid+".json"), nil
}

func readHistory(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func writeHistory(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
