package store

// Message statuses as delivered by the channel provider. Only inbound
// messages are ever forwarded; everything else is kept for audit.
const (
	StatusInbound = "inbound"
)

// Message represents one chat event received from the channel provider.
type Message struct {
	ID          int64
	MessageID   string
	ChannelID   string
	ChatID      string
	ChatType    string // whatsapp, telegram, ...
	SenderName  string
	SenderPhone string
	SenderUser  string
	Body        string
	ContentURI  string
	MessageType string // text, media, system
	Status      string
	IsEcho      bool
	SentAt      int64
	PodioItemID int64 // 0 until forwarded
	ForwardedAt int64
}

// Forwardable reports whether this message should ever reach Podio.
// Echoes and non-inbound statuses are stored for audit only.
func (m *Message) Forwardable() bool {
	return !m.IsEcho && m.Status == StatusInbound
}

// Contact represents one chat counterparty, keyed by (chat_id, chat_type).
type Contact struct {
	ID             int64
	ChatID         string
	ChatType       string
	Name           string
	Phone          string
	Username       string
	ChannelID      string
	PodioContactID int64
}

// Deal represents the Podio work item mirroring one conversation.
type Deal struct {
	ID          int64
	ContactID   int64
	PodioItemID int64
	Status      string // active, closed
}

// ActiveDealRoute joins a deal with the contact fields needed to route
// agent replies back to the right chat.
type ActiveDealRoute struct {
	Deal    Deal
	Contact Contact
}
