package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/events"
)

// DiskStore persists each session as one JSON file under a root
// directory. Every mutation rewrites the file and publishes a thin
// event on the bus so that watchers know to re-fetch.
type DiskStore struct {
	mu   sync.Mutex
	root string
	bus  *events.Bus
}

type sessionFile struct {
	Session  Session            `json:"session"`
	Messages []MessageWithParts `json:"messages"`
}

// NewDiskStore creates a store rooted at dir, creating it if needed.
// The bus may be nil if nothing subscribes to change events.
func NewDiskStore(dir string, bus *events.Bus) (*DiskStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrapf(err, "resolving home directory")
		}
		dir = filepath.Join(home, ".comclerk", "sessions")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating session directory %s", dir)
	}
	return &DiskStore{root: dir, bus: bus}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *DiskStore) load(id string) (*sessionFile, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading session %s", id)
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrapf(err, "parsing session %s", id)
	}
	return &sf, nil
}

func (s *DiskStore) save(sf *sessionFile) error {
	sf.Session.Time.Updated = NowMillis()
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding session %s", sf.Session.ID)
	}
	tmp := s.path(sf.Session.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing session %s", sf.Session.ID)
	}
	if err := os.Rename(tmp, s.path(sf.Session.ID)); err != nil {
		return errors.Wrapf(err, "replacing session %s", sf.Session.ID)
	}
	return nil
}

func (s *DiskStore) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// CreateSession makes a new empty session.
func (s *DiskStore) CreateSession(title string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := NowMillis()
	sf := &sessionFile{
		Session: Session{
			ID:    NewSessionID(),
			Title: title,
			Time:  SessionTime{Created: now, Updated: now},
		},
		Messages: []MessageWithParts{},
	}
	if err := s.save(sf); err != nil {
		return nil, err
	}
	s.publish(events.Event{Type: events.TypeSessionUpdated, SessionID: sf.Session.ID})
	sess := sf.Session
	return &sess, nil
}

// GetSession returns one session's metadata.
func (s *DiskStore) GetSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(id)
	if err != nil {
		return nil, err
	}
	sess := sf.Session
	return &sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *DiskStore) ListSessions() ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.root)
	}
	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		sf, err := s.load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		sess := sf.Session
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Updated > out[j].Time.Updated
	})
	return out, nil
}

// UpdateTitle renames a session.
func (s *DiskStore) UpdateTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(id)
	if err != nil {
		return err
	}
	sf.Session.Title = title
	if err := s.save(sf); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.TypeSessionUpdated, SessionID: id})
	return nil
}

// DeleteSession removes a session and its messages.
func (s *DiskStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "deleting session %s", id)
	}
	s.publish(events.Event{Type: events.TypeSessionDeleted, SessionID: id})
	return nil
}

// ListMessages returns the session's messages with parts in order.
func (s *DiskStore) ListMessages(sessionID string) ([]MessageWithParts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]MessageWithParts, len(sf.Messages))
	copy(out, sf.Messages)
	return out, nil
}

// AppendMessage adds a message to the session. Missing IDs and the
// created timestamp are filled in.
func (s *DiskStore) AppendMessage(sessionID string, info MessageInfo, parts []Part) (*MessageWithParts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if info.ID == "" {
		info.ID = NewMessageID()
	}
	info.SessionID = sessionID
	if info.Time.Created == 0 {
		info.Time.Created = NowMillis()
	}
	for i := range parts {
		if parts[i].ID == "" {
			parts[i].ID = NewPartID()
		}
		parts[i].SessionID = sessionID
		parts[i].MessageID = info.ID
	}
	msg := MessageWithParts{Info: info, Parts: parts}
	sf.Messages = append(sf.Messages, msg)
	if err := s.save(sf); err != nil {
		return nil, err
	}
	s.publish(events.Event{Type: events.TypeMessageCreated, SessionID: sessionID, MessageID: info.ID})
	return &msg, nil
}

// AppendPart adds a part to an existing message.
func (s *DiskStore) AppendPart(sessionID, messageID string, part Part) (*Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	idx := findMessage(sf, messageID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	if part.ID == "" {
		part.ID = NewPartID()
	}
	part.SessionID = sessionID
	part.MessageID = messageID
	sf.Messages[idx].Parts = append(sf.Messages[idx].Parts, part)
	if err := s.save(sf); err != nil {
		return nil, err
	}
	s.publish(events.Event{Type: events.TypePartUpdated, SessionID: sessionID, MessageID: messageID})
	return &part, nil
}

// UpdateToolState replaces the state of a tool part, driving it
// through pending, running and one of completed or error.
func (s *DiskStore) UpdateToolState(sessionID, messageID, partID string, state ToolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return err
	}
	idx := findMessage(sf, messageID)
	if idx < 0 {
		return ErrNotFound
	}
	for i := range sf.Messages[idx].Parts {
		p := &sf.Messages[idx].Parts[i]
		if p.ID == partID && p.Type == PartTool {
			p.State = &state
			if err := s.save(sf); err != nil {
				return err
			}
			s.publish(events.Event{Type: events.TypePartUpdated, SessionID: sessionID, MessageID: messageID})
			return nil
		}
	}
	return ErrNotFound
}

// UpdateSubtask records a nested run's terminal state and output.
func (s *DiskStore) UpdateSubtask(sessionID, messageID, partID, status, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return err
	}
	idx := findMessage(sf, messageID)
	if idx < 0 {
		return ErrNotFound
	}
	for i := range sf.Messages[idx].Parts {
		p := &sf.Messages[idx].Parts[i]
		if p.ID == partID && p.Type == PartSubtask {
			p.Status = status
			p.Output = output
			if err := s.save(sf); err != nil {
				return err
			}
			s.publish(events.Event{Type: events.TypePartUpdated, SessionID: sessionID, MessageID: messageID})
			return nil
		}
	}
	return ErrNotFound
}

// FinishMessage stamps the completion time on a message, marking the
// end of the assistant turn.
func (s *DiskStore) FinishMessage(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.load(sessionID)
	if err != nil {
		return err
	}
	idx := findMessage(sf, messageID)
	if idx < 0 {
		return ErrNotFound
	}
	sf.Messages[idx].Info.Time.Completed = NowMillis()
	if err := s.save(sf); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.TypeMessageUpdated, SessionID: sessionID, MessageID: messageID})
	return nil
}

func findMessage(sf *sessionFile, messageID string) int {
	for i := range sf.Messages {
		if sf.Messages[i].Info.ID == messageID {
			return i
		}
	}
	return -1
}
