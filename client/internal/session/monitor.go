package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ChangeListener is notified after any change to the session list. It runs
// on the monitor goroutine and must not block.
type ChangeListener func()

// AttentionListener is notified when a session enters the needs-attention
// state.
type AttentionListener func(Session)

// Monitor watches the sessions directory and maintains an observable
// snapshot of the worker sessions publishing there.
type Monitor struct {
	dir string

	mu                 sync.RWMutex
	sessions           map[string]Session
	changeListeners    []ChangeListener
	attentionListeners []AttentionListener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(dir string) *Monitor {
	return &Monitor{
		dir:      dir,
		sessions: make(map[string]Session),
	}
}

// Start scans the sessions directory and begins watching it for changes.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cancel != nil {
		log.Error("session monitor already started")
		return nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.dir); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			log.Warnf("error closing watcher: %v", cerr)
		}
		return err
	}

	m.scan()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(ctx, watcher)
	return nil
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// Sessions returns a snapshot of all known sessions, newest activity first.
func (m *Monitor) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Counts aggregates the known sessions by state.
func (m *Monitor) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c Counts
	for _, s := range m.sessions {
		switch s.State {
		case StateWorking:
			c.Working++
		case StateNeedsAttention:
			c.NeedsAttention++
		default:
			c.Idle++
		}
	}
	return c
}

func (m *Monitor) AddChangeListener(listener ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeListeners = append(m.changeListeners, listener)
}

func (m *Monitor) AddAttentionListener(listener AttentionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attentionListeners = append(m.attentionListeners, listener)
}

func (m *Monitor) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warnf("error closing watcher: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("session watcher error: %v", err)
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		m.loadFile(event.Name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		m.removeFile(event.Name)
	}
}

func (m *Monitor) scan() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		log.Warnf("failed to scan sessions directory %s: %v", m.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m.loadFile(filepath.Join(m.dir, entry.Name()))
	}
}

func (m *Monitor) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debugf("failed to read session file %s: %v", path, err)
		return
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// writers are not atomic, a half written file shows up as garbage
		log.Debugf("ignoring unparsable session file %s: %v", path, err)
		return
	}

	key := filepath.Base(path)

	m.mu.Lock()
	prev, known := m.sessions[key]
	if s.ID == "" {
		if known {
			s.ID = prev.ID
		} else {
			s.ID = uuid.NewString()
		}
	}
	if s.Title == "" {
		s.Title = strings.TrimSuffix(key, ".json")
	}
	m.sessions[key] = s
	enteredAttention := s.State == StateNeedsAttention && (!known || prev.State != StateNeedsAttention)
	changeListeners := append([]ChangeListener(nil), m.changeListeners...)
	attentionListeners := append([]AttentionListener(nil), m.attentionListeners...)
	m.mu.Unlock()

	for _, listener := range changeListeners {
		listener()
	}
	if enteredAttention {
		log.Infof("session %q needs attention", s.Title)
		for _, listener := range attentionListeners {
			listener(s)
		}
	}
}

func (m *Monitor) removeFile(path string) {
	key := filepath.Base(path)

	m.mu.Lock()
	_, known := m.sessions[key]
	delete(m.sessions, key)
	changeListeners := append([]ChangeListener(nil), m.changeListeners...)
	m.mu.Unlock()

	if !known {
		return
	}
	for _, listener := range changeListeners {
		listener()
	}
}
