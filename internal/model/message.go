package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/essence/internal/snowflake"
)

// MessageFlags mark message state.
type MessageFlags uint32

const (
	MessagePinned MessageFlags = 1 << iota
	// Sent by the service, e.g. join and pin notices.
	MessageSystem
	// Published from an announcement channel into a following channel.
	MessageCrosspost
	MessagePublished
)

const allMessageFlags = MessagePublished<<1 - 1

func (f *MessageFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allMessageFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// EmbedType is the kind of a rich embed.
type EmbedType uint8

const (
	EmbedRich EmbedType = iota
	EmbedImage
	EmbedVideo
	EmbedMeta
)

var embedTypeNames = []string{"rich", "image", "video", "meta"}

func (e EmbedType) MarshalText() ([]byte, error) {
	return enumName(embedTypeNames, e, "embed type")
}

func (e *EmbedType) UnmarshalText(text []byte) error {
	v, err := parseEnum[EmbedType](embedTypeNames, text, "embed type")
	if err != nil {
		return err
	}
	*e = v
	return nil
}

type EmbedAuthor struct {
	Name    string  `json:"name"`
	URL     *string `json:"url"`
	IconURL *string `json:"icon_url"`
}

type EmbedFooter struct {
	Text    string  `json:"text"`
	IconURL *string `json:"icon_url"`
}

type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Align string `json:"align,omitempty"`
}

// Embed is stored and relayed as-is; nothing here renders it.
type Embed struct {
	Type        EmbedType    `json:"type"`
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	URL         *string      `json:"url"`
	Timestamp   *time.Time   `json:"timestamp"`
	Color       *uint32      `json:"color"`
	Author      *EmbedAuthor `json:"author"`
	Footer      *EmbedFooter `json:"footer"`
	Image       *string      `json:"image"`
	Thumbnail   *string      `json:"thumbnail"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Attachment is an uploaded file. Its ID is a UUID rather than a snowflake
// because it doubles as the object storage key.
type Attachment struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Alt      *string   `json:"alt"`
	Size     uint64    `json:"size"`
}

// MessageType discriminates MessageInfo.
type MessageType uint8

const (
	MessageDefault MessageType = iota
	MessageJoin
	MessageLeave
	MessagePin
)

var messageTypeNames = []string{"default", "join", "leave", "pin"}

func (m MessageType) MarshalText() ([]byte, error) {
	return enumName(messageTypeNames, m, "message type")
}

func (m *MessageType) UnmarshalText(text []byte) error {
	v, err := parseEnum[MessageType](messageTypeNames, text, "message type")
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MessageInfo is a tagged union:
//
//	default                                  (no payload)
//	join   {user_id}
//	leave  {user_id}
//	pin    {pinned_message_id, pinned_by}
//
// On the wire it is {"type": ..., "metadata": {...}}.
type MessageInfo struct {
	Type            MessageType
	UserID          snowflake.ID
	PinnedMessageID snowflake.ID
	PinnedBy        snowflake.ID
}

func JoinInfo(userID snowflake.ID) MessageInfo {
	return MessageInfo{Type: MessageJoin, UserID: userID}
}

func LeaveInfo(userID snowflake.ID) MessageInfo {
	return MessageInfo{Type: MessageLeave, UserID: userID}
}

func PinInfo(messageID, pinnedBy snowflake.ID) MessageInfo {
	return MessageInfo{Type: MessagePin, PinnedMessageID: messageID, PinnedBy: pinnedBy}
}

type userMetadata struct {
	UserID snowflake.ID `json:"user_id"`
}

type pinMetadata struct {
	PinnedMessageID snowflake.ID `json:"pinned_message_id"`
	PinnedBy        snowflake.ID `json:"pinned_by"`
}

type messageInfoWire struct {
	Type     MessageType     `json:"type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (m MessageInfo) metadata() (any, error) {
	switch m.Type {
	case MessageDefault:
		return nil, nil
	case MessageJoin, MessageLeave:
		return userMetadata{UserID: m.UserID}, nil
	case MessagePin:
		return pinMetadata{PinnedMessageID: m.PinnedMessageID, PinnedBy: m.PinnedBy}, nil
	}
	return nil, fmt.Errorf("model: invalid message type %d", m.Type)
}

func (m MessageInfo) MarshalJSON() ([]byte, error) {
	meta, err := m.metadata()
	if err != nil {
		return nil, err
	}
	wire := messageInfoWire{Type: m.Type}
	if meta != nil {
		if wire.Metadata, err = json.Marshal(meta); err != nil {
			return nil, err
		}
	}
	return json.Marshal(wire)
}

func (m *MessageInfo) UnmarshalJSON(data []byte) error {
	var wire messageInfoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("model: decoding message info: %w", err)
	}

	info := MessageInfo{Type: wire.Type}
	switch wire.Type {
	case MessageJoin, MessageLeave:
		var meta userMetadata
		if err := json.Unmarshal(wire.Metadata, &meta); err != nil {
			return fmt.Errorf("model: decoding %s metadata: %w", messageTypeNames[wire.Type], err)
		}
		info.UserID = meta.UserID
	case MessagePin:
		var meta pinMetadata
		if err := json.Unmarshal(wire.Metadata, &meta); err != nil {
			return fmt.Errorf("model: decoding pin metadata: %w", err)
		}
		info.PinnedMessageID = meta.PinnedMessageID
		info.PinnedBy = meta.PinnedBy
	}
	*m = info
	return nil
}

// Message is a message in a channel. Info is flattened into the top-level
// object on the wire.
type Message struct {
	ID          snowflake.ID  `json:"id"`
	RevisionID  *snowflake.ID `json:"revision_id"`
	ChannelID   snowflake.ID  `json:"channel_id"`
	AuthorID    *snowflake.ID `json:"author_id"`
	Info        MessageInfo   `json:"-"`
	Content     *string       `json:"content"`
	Embeds      []Embed       `json:"embeds"`
	Attachments []Attachment  `json:"attachments"`
	Flags       MessageFlags  `json:"flags"`
	Stars       uint32        `json:"stars"`
	// Mentions is filled in once when the message is created.
	Mentions []snowflake.ID `json:"mentions"`
}

// ContentMentions lists the users mentioned in the message content, sorted
// and without duplicates.
func (m Message) ContentMentions() []snowflake.ID {
	if m.Content == nil {
		return nil
	}
	ids := snowflake.ExtractMentions(*m.Content)
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	meta, err := m.Info.metadata()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Type     MessageType `json:"type"`
		Metadata any         `json:"metadata,omitempty"`
	}{plain(m), m.Info.Type, meta})
}
