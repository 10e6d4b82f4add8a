// Package communication implements the communication-server Role: chat
// persistence as one JSON file per chat under base_path/<id>/communication.
package communication

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/wire"
)

// chatRecord is the on-disk JSON shape of one chat.
type chatRecord struct {
	Name     string              `json:"name"`
	Messages []message.ChatMessage `json:"messages"`
}

type chat struct {
	id   uint64
	name string
	msgs []message.ChatMessage
}

// Server is the communication-server role: it holds every chat in memory,
// loading existing chat files on construction and writing them back on
// Stop.
type Server struct {
	log      *slog.Logger
	nodeID   uint8
	dir      string // base_path/<id>/communication
	mu       sync.Mutex
	chats    map[uint64]*chat
	nowFn    func() time.Time
}

var _ role.Role = (*Server)(nil)

// New creates the communication role for nodeID, ensuring
// base_path/<id>/communication exists and loading every chat file found
// within it.
func New(basePath string, nodeID uint8, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(basePath, strconv.Itoa(int(nodeID)), "communication")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("communication: creating %s: %w", dir, err)
	}

	s := &Server{
		log:    logger.WithGroup("communication"),
		nodeID: nodeID,
		dir:    dir,
		chats:  make(map[uint64]*chat),
		nowFn:  time.Now,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("communication: reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			s.log.Warn("skipping non-chat file", "name", e.Name())
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.log.Warn("failed to read chat file", "name", e.Name(), "error", err)
			continue
		}
		var rec chatRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.log.Warn("failed to parse chat file", "name", e.Name(), "error", err)
			continue
		}
		s.chats[id] = &chat{id: id, name: rec.Name, msgs: rec.Messages}
	}

	return s, nil
}

func (s *Server) Kind() wire.NodeKind { return wire.KindServer }
func (s *Server) KindLabel() string   { return "communication" }

// HandleMessage dispatches one request from peer; any response arriving
// is logged and dropped (see HandleControlMessage for the injection path).
func (s *Server) HandleMessage(peer uint8, msg message.Message) (message.Message, bool) {
	if msg.IsResponse() {
		s.log.Warn("dropping unexpected response at communication server", "peer", peer)
		return message.Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Tag {
	case message.TagServerType:
		return message.NewRespServerType(message.ServerKindCommunication), true
	case message.TagGetChats:
		return message.NewRespChats(s.listLocked()), true
	case message.TagSendMessage:
		s.appendMessageLocked(msg.ChatID, peer, msg.Text)
		return message.Message{}, false
	case message.TagCreateChat:
		c := s.createLocked(msg.Name)
		return message.NewRespNewChat(message.ChatSummary{ID: c.id, Name: c.name}), true
	case message.TagDeleteChat:
		s.deleteLocked(msg.ChatID)
		return message.Message{}, false
	case message.TagGetMessages:
		return message.NewRespMessages(s.messagesLocked(msg.ChatID)), true
	default:
		return message.NewRespNotImplemented(), true
	}
}

// HandleControlMessage relays a supervisor-injected request verbatim to
// the named peer; the request is not handled by this server itself.
func (s *Server) HandleControlMessage(ctrl role.ControlMessage) (role.Outbound, bool) {
	return role.Outbound{Peer: ctrl.Peer, Message: ctrl.Request}, true
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if err := s.persistLocked(c); err != nil {
			s.log.Error("failed to persist chat on stop", "chat_id", c.id, "error", err)
		}
	}
}

func (s *Server) listLocked() []message.ChatSummary {
	out := make([]message.ChatSummary, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, message.ChatSummary{ID: c.id, Name: c.name})
	}
	return out
}

func (s *Server) createLocked(name string) *chat {
	id := rand.Uint64()
	for {
		if _, exists := s.chats[id]; !exists {
			break
		}
		id = rand.Uint64()
	}
	c := &chat{id: id, name: name}
	s.chats[id] = c
	return c
}

func (s *Server) appendMessageLocked(chatID uint64, author uint8, text string) {
	c, ok := s.chats[chatID]
	if !ok {
		s.log.Warn("message sent to unknown chat", "chat_id", chatID)
		return
	}
	c.msgs = append(c.msgs, message.ChatMessage{
		Author:    author,
		Text:      text,
		Timestamp: s.nowFn().UTC().Format(time.RFC3339),
	})
}

func (s *Server) deleteLocked(chatID uint64) {
	delete(s.chats, chatID)
	path := filepath.Join(s.dir, strconv.FormatUint(chatID, 10))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to delete chat file", "chat_id", chatID, "error", err)
	}
}

func (s *Server) messagesLocked(chatID uint64) []message.ChatMessage {
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return c.msgs
}

func (s *Server) persistLocked(c *chat) error {
	rec := chatRecord{Name: c.name, Messages: c.msgs}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, strconv.FormatUint(c.id, 10))
	return os.WriteFile(path, raw, 0o644)
}
