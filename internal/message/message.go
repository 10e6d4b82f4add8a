// Package message implements the application-layer Request/Response tagged
// union and its self-describing, deterministic binary codec.
//
// Every variant is encoded as a kind byte and a tag byte followed by a
// type-specific body. Strings and byte blobs are length-prefixed with a
// little-endian uint32 so that the codec is self-delimiting: a consumer
// never needs to know where the message ends ahead of time, which is the
// property the fragment reassembler's full-width concatenation relies on
// (see internal/reassembly).
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies which Request or Response variant is encoded.
type Tag uint8

const (
	TagServerType Tag = iota
	TagGetChats
	TagSendMessage
	TagCreateChat
	TagDeleteChat
	TagGetMessages
	TagListPublicFiles
	TagGetPublicFile
	TagWritePublicFile
	TagListPrivateFiles
	TagGetPrivateFile
	TagWritePrivateFile

	// Response tags continue the same namespace; a Message's Kind field
	// (not the tag) distinguishes request from response so that the body
	// layout per-tag never has to be duplicated.
	TagRespServerType
	TagRespChats
	TagRespNewChat
	TagRespMessages
	TagRespFiles
	TagRespFile
	TagRespNoSuchFile
	TagRespNotImplemented
)

// Kind distinguishes a Request from a Response.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
)

// ServerKind mirrors the NodeKind of a server role.
type ServerKind uint8

const (
	ServerKindContent ServerKind = iota
	ServerKindCommunication
)

func (k ServerKind) String() string {
	if k == ServerKindCommunication {
		return "communication"
	}
	return "content"
}

// ChatSummary is one entry of a Chats response.
type ChatSummary struct {
	ID   uint64
	Name string
}

// ChatMessage is one entry of a Messages response.
type ChatMessage struct {
	Author    uint8
	Text      string
	Timestamp string // RFC3339
}

// Message is the application payload carried inside a reassembled fragment
// stream. Exactly one field set is meaningful per Tag; see the New*
// constructors for the admissible combinations.
type Message struct {
	Kind Kind
	Tag  Tag

	ChatID uint64
	Name   string
	Text   string
	Path   string
	Data   []byte

	ServerKind ServerKind
	Chats      []ChatSummary
	NewChat    ChatSummary
	Messages   []ChatMessage
	Files      []string
	File       []byte
}

var ErrTruncated = errors.New("message: truncated payload")

// --- Request constructors -------------------------------------------------

func NewServerType() Message                  { return Message{Kind: KindRequest, Tag: TagServerType} }
func NewGetChats() Message                    { return Message{Kind: KindRequest, Tag: TagGetChats} }
func NewSendMessage(chat uint64, text string) Message {
	return Message{Kind: KindRequest, Tag: TagSendMessage, ChatID: chat, Text: text}
}
func NewCreateChat(name string) Message {
	return Message{Kind: KindRequest, Tag: TagCreateChat, Name: name}
}
func NewDeleteChat(chat uint64) Message {
	return Message{Kind: KindRequest, Tag: TagDeleteChat, ChatID: chat}
}
func NewGetMessages(chat uint64) Message {
	return Message{Kind: KindRequest, Tag: TagGetMessages, ChatID: chat}
}
func NewListPublicFiles() Message { return Message{Kind: KindRequest, Tag: TagListPublicFiles} }
func NewGetPublicFile(name string) Message {
	return Message{Kind: KindRequest, Tag: TagGetPublicFile, Path: name}
}
func NewWritePublicFile(name string, data []byte) Message {
	return Message{Kind: KindRequest, Tag: TagWritePublicFile, Path: name, Data: data}
}
func NewListPrivateFiles() Message { return Message{Kind: KindRequest, Tag: TagListPrivateFiles} }
func NewGetPrivateFile(name string) Message {
	return Message{Kind: KindRequest, Tag: TagGetPrivateFile, Path: name}
}
func NewWritePrivateFile(name string, data []byte) Message {
	return Message{Kind: KindRequest, Tag: TagWritePrivateFile, Path: name, Data: data}
}

// --- Response constructors -------------------------------------------------

func NewRespServerType(kind ServerKind) Message {
	return Message{Kind: KindResponse, Tag: TagRespServerType, ServerKind: kind}
}
func NewRespChats(chats []ChatSummary) Message {
	return Message{Kind: KindResponse, Tag: TagRespChats, Chats: chats}
}
func NewRespNewChat(c ChatSummary) Message {
	return Message{Kind: KindResponse, Tag: TagRespNewChat, NewChat: c}
}
func NewRespMessages(msgs []ChatMessage) Message {
	return Message{Kind: KindResponse, Tag: TagRespMessages, Messages: msgs}
}
func NewRespFiles(names []string) Message {
	return Message{Kind: KindResponse, Tag: TagRespFiles, Files: names}
}
func NewRespFile(data []byte) Message {
	return Message{Kind: KindResponse, Tag: TagRespFile, File: data}
}
func NewRespNoSuchFile() Message     { return Message{Kind: KindResponse, Tag: TagRespNoSuchFile} }
func NewRespNotImplemented() Message { return Message{Kind: KindResponse, Tag: TagRespNotImplemented} }

// IsResponse reports whether m is a response variant.
func (m Message) IsResponse() bool { return m.Kind == KindResponse }

// Encode serializes m into the deterministic tag+body wire form.
func Encode(m Message) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, uint8(m.Kind), uint8(m.Tag))

	switch m.Tag {
	case TagSendMessage, TagDeleteChat, TagGetMessages:
		buf = putU64(buf, m.ChatID)
		if m.Tag == TagSendMessage {
			buf = putString(buf, m.Text)
		}
	case TagCreateChat:
		buf = putString(buf, m.Name)
	case TagGetPublicFile, TagGetPrivateFile:
		buf = putString(buf, m.Path)
	case TagWritePublicFile, TagWritePrivateFile:
		buf = putString(buf, m.Path)
		buf = putBytes(buf, m.Data)
	case TagRespServerType:
		buf = append(buf, uint8(m.ServerKind))
	case TagRespChats:
		buf = putU32(buf, uint32(len(m.Chats)))
		for _, c := range m.Chats {
			buf = putU64(buf, c.ID)
			buf = putString(buf, c.Name)
		}
	case TagRespNewChat:
		buf = putU64(buf, m.NewChat.ID)
		buf = putString(buf, m.NewChat.Name)
	case TagRespMessages:
		buf = putU32(buf, uint32(len(m.Messages)))
		for _, msg := range m.Messages {
			buf = append(buf, msg.Author)
			buf = putString(buf, msg.Text)
			buf = putString(buf, msg.Timestamp)
		}
	case TagRespFiles:
		buf = putU32(buf, uint32(len(m.Files)))
		for _, name := range m.Files {
			buf = putString(buf, name)
		}
	case TagRespFile:
		buf = putBytes(buf, m.File)
	case TagServerType, TagGetChats, TagListPublicFiles, TagListPrivateFiles,
		TagRespNoSuchFile, TagRespNotImplemented:
		// no body
	}

	return buf
}

// Decode parses the tag+body wire form produced by Encode.
func Decode(data []byte) (Message, error) {
	r := &reader{data: data}

	m := Message{
		Kind: Kind(r.u8()),
		Tag:  Tag(r.u8()),
	}

	switch m.Tag {
	case TagSendMessage:
		m.ChatID = r.u64()
		m.Text = r.str()
	case TagDeleteChat, TagGetMessages:
		m.ChatID = r.u64()
	case TagCreateChat:
		m.Name = r.str()
	case TagGetPublicFile, TagGetPrivateFile:
		m.Path = r.str()
	case TagWritePublicFile, TagWritePrivateFile:
		m.Path = r.str()
		m.Data = r.bytes()
	case TagRespServerType:
		m.ServerKind = ServerKind(r.u8())
	case TagRespChats:
		n := r.u32()
		m.Chats = make([]ChatSummary, n)
		for i := range m.Chats {
			m.Chats[i] = ChatSummary{ID: r.u64(), Name: r.str()}
		}
	case TagRespNewChat:
		m.NewChat = ChatSummary{ID: r.u64(), Name: r.str()}
	case TagRespMessages:
		n := r.u32()
		m.Messages = make([]ChatMessage, n)
		for i := range m.Messages {
			m.Messages[i] = ChatMessage{Author: r.u8(), Text: r.str(), Timestamp: r.str()}
		}
	case TagRespFiles:
		n := r.u32()
		m.Files = make([]string, n)
		for i := range m.Files {
			m.Files[i] = r.str()
		}
	case TagRespFile:
		m.File = r.bytes()
	case TagServerType, TagGetChats, TagListPublicFiles, TagListPrivateFiles,
		TagRespNoSuchFile, TagRespNotImplemented:
		// no body
	default:
		return Message{}, fmt.Errorf("message: unknown tag %d", m.Tag)
	}

	if r.err != nil {
		return Message{}, r.err
	}
	return m, nil
}

func putU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putString(buf []byte, s string) []byte { return putBytes(buf, []byte(s)) }

func putBytes(buf []byte, b []byte) []byte {
	buf = putU32(buf, uint32(len(b)))
	return append(buf, b...)
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.pos+1 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.pos+4 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || r.pos+8 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if r.pos+int(n) > len(r.data) {
		r.err = ErrTruncated
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b
}

func (r *reader) str() string { return string(r.bytes()) }
