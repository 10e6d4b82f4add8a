// Package content implements the content-server Role: a per-peer file
// store rooted at base_path/<id>/content, split into a shared "public"
// subtree and one private subtree per peer id.
package content

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/wire"
)

// Server is the content-server role.
type Server struct {
	log  *slog.Logger
	dir  string // base_path/<id>/content
}

var _ role.Role = (*Server)(nil)

// New creates the content role for nodeID, ensuring
// base_path/<id>/content exists.
func New(basePath string, nodeID uint8, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(basePath, strconv.Itoa(int(nodeID)), "content")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("content: creating %s: %w", dir, err)
	}
	return &Server{log: logger.WithGroup("content"), dir: dir}, nil
}

func (s *Server) Kind() wire.NodeKind { return wire.KindServer }
func (s *Server) KindLabel() string   { return "content" }

func (s *Server) HandleMessage(peer uint8, msg message.Message) (message.Message, bool) {
	if msg.IsResponse() {
		s.log.Warn("dropping unexpected response at content server", "peer", peer)
		return message.Message{}, false
	}

	switch msg.Tag {
	case message.TagServerType:
		return message.NewRespServerType(message.ServerKindContent), true
	case message.TagListPublicFiles:
		return message.NewRespFiles(s.listFiles(s.publicDir())), true
	case message.TagListPrivateFiles:
		return message.NewRespFiles(s.listFiles(s.privateDir(peer))), true
	case message.TagGetPublicFile:
		return s.getFile(s.publicDir(), msg.Path), true
	case message.TagGetPrivateFile:
		return s.getFile(s.privateDir(peer), msg.Path), true
	case message.TagWritePublicFile:
		s.writeFile(s.publicDir(), msg.Path, msg.Data)
		return message.Message{}, false
	case message.TagWritePrivateFile:
		s.writeFile(s.privateDir(peer), msg.Path, msg.Data)
		return message.Message{}, false
	default:
		return message.NewRespNotImplemented(), true
	}
}

func (s *Server) HandleControlMessage(ctrl role.ControlMessage) (role.Outbound, bool) {
	return role.Outbound{Peer: ctrl.Peer, Message: ctrl.Request}, true
}

func (s *Server) Stop() {}

func (s *Server) publicDir() string          { return filepath.Join(s.dir, "public") }
func (s *Server) privateDir(peer uint8) string { return filepath.Join(s.dir, strconv.Itoa(int(peer))) }

// hasTraversal rejects any name containing the substring ".." before it ever
// touches the filesystem, matching a request for "../etc/passwd" being
// refused purely on the string rather than leaking whether such a path
// exists.
func hasTraversal(name string) bool {
	return strings.Contains(name, "..")
}

func (s *Server) listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Error("failed to create content directory", "dir", dir, "error", err)
		}
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (s *Server) getFile(dir, name string) message.Message {
	if hasTraversal(name) {
		return message.NewRespNoSuchFile()
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return message.NewRespNoSuchFile()
	}
	return message.NewRespFile(data)
}

func (s *Server) writeFile(dir, name string, data []byte) {
	if hasTraversal(name) {
		s.log.Warn("refusing write outside content root", "name", name)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("failed to create content directory", "dir", dir, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		s.log.Error("failed to write file", "path", filepath.Join(dir, name), "error", err)
	}
}
