package domain

// EventKind distinguishes the three lifecycle shapes an inbound event can take.
type EventKind string

const (
	EventKindMessage EventKind = "message"
	EventKindEdit    EventKind = "edit"
	EventKindDelete  EventKind = "delete"
)

// Attachment describes a file attached to an inbound event. The transport
// adapter resolves a fetchable URL before handing the event over.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimetype,omitempty"`
}

// IngestEvent is the normalized inbound event produced by the messaging
// adapter. The pipeline never sees raw platform payloads.
type IngestEvent struct {
	Kind         EventKind    `json:"kind"`
	ChannelKey   string       `json:"channelKey"`
	TimestampKey string       `json:"timestampKey"`
	Author       string       `json:"author,omitempty"`
	Text         string       `json:"text,omitempty"`
	ThreadKey    string       `json:"threadKey,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Key returns the event's ingestion identity.
func (e IngestEvent) Key() IngestionKey {
	return IngestionKey{ChannelKey: e.ChannelKey, TimestampKey: e.TimestampKey}
}

// ThreadMessage is one ordered message inside a tracked thread.
type ThreadMessage struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// Thread is an ordered set of messages sharing a thread key. It is chunked
// and stored as one replaceable unit.
type Thread struct {
	Key      string
	Messages []ThreadMessage
}
