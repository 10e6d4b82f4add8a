package communication

import (
	"testing"
	"time"

	"github.com/sourcerouted/overlay/internal/message"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(t.TempDir(), 7, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.nowFn = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestServerTypeRequest(t *testing.T) {
	s := newTestServer(t)
	resp, ok := s.HandleMessage(2, message.NewServerType())
	if !ok {
		t.Fatal("HandleMessage() ok = false, want true")
	}
	if resp.Tag != message.TagRespServerType || resp.ServerKind != message.ServerKindCommunication {
		t.Errorf("resp = %+v, want ServerType(communication)", resp)
	}
}

func TestCreateChatThenSendThenGetMessages(t *testing.T) {
	s := newTestServer(t)

	resp, ok := s.HandleMessage(2, message.NewCreateChat("general"))
	if !ok || resp.Tag != message.TagRespNewChat {
		t.Fatalf("CreateChat response = %+v, ok=%v", resp, ok)
	}
	chatID := resp.NewChat.ID

	if _, ok := s.HandleMessage(2, message.NewSendMessage(chatID, "hello")); ok {
		t.Error("SendMessage should not produce a response")
	}

	resp, ok = s.HandleMessage(3, message.NewGetMessages(chatID))
	if !ok {
		t.Fatal("GetMessages ok = false")
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "hello" || resp.Messages[0].Author != 2 {
		t.Errorf("messages = %+v, want one message from peer 2", resp.Messages)
	}
}

func TestGetChatsListsCreatedChats(t *testing.T) {
	s := newTestServer(t)
	s.HandleMessage(2, message.NewCreateChat("a"))
	s.HandleMessage(2, message.NewCreateChat("b"))

	resp, ok := s.HandleMessage(2, message.NewGetChats())
	if !ok || len(resp.Chats) != 2 {
		t.Fatalf("GetChats = %+v, ok=%v, want 2 chats", resp, ok)
	}
}

func TestDeleteChatRemovesIt(t *testing.T) {
	s := newTestServer(t)
	created, _ := s.HandleMessage(2, message.NewCreateChat("x"))

	if _, ok := s.HandleMessage(2, message.NewDeleteChat(created.NewChat.ID)); ok {
		t.Error("DeleteChat should not produce a response")
	}

	resp, _ := s.HandleMessage(2, message.NewGetChats())
	if len(resp.Chats) != 0 {
		t.Errorf("chats after delete = %+v, want empty", resp.Chats)
	}
}

func TestUnknownRequestIsNotImplemented(t *testing.T) {
	s := newTestServer(t)
	resp, ok := s.HandleMessage(2, message.NewListPublicFiles())
	if !ok || resp.Tag != message.TagRespNotImplemented {
		t.Errorf("resp = %+v, ok=%v, want NotImplemented", resp, ok)
	}
}

func TestResponseArrivingIsDropped(t *testing.T) {
	s := newTestServer(t)
	_, ok := s.HandleMessage(2, message.NewRespNotImplemented())
	if ok {
		t.Error("a response message should never produce another response")
	}
}

func TestStopPersistsAndReloadRestores(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 9, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	resp, _ := s.HandleMessage(2, message.NewCreateChat("persisted"))
	s.HandleMessage(2, message.NewSendMessage(resp.NewChat.ID, "hi"))
	s.Stop()

	reloaded, err := New(dir, 9, nil)
	if err != nil {
		t.Fatalf("reload New() error = %v", err)
	}
	got, ok := reloaded.HandleMessage(2, message.NewGetMessages(resp.NewChat.ID))
	if !ok || len(got.Messages) != 1 || got.Messages[0].Text != "hi" {
		t.Errorf("reloaded messages = %+v, ok=%v, want one message 'hi'", got, ok)
	}
}
