package wecom

// Message origin codes as reported by the platform.
const (
	OriginCustomer = 3
	OriginSystem   = 4
	OriginAgent    = 5
)

// Message is one entry of a sync_msg page.
type Message struct {
	MsgID    string `json:"msgid"`
	OpenKFID string `json:"open_kfid"`
	UserID   string `json:"external_userid"`
	SendTime int64  `json:"send_time"`
	Origin   int    `json:"origin"`
	MsgType  string `json:"msgtype"`

	Text  *TextPayload  `json:"text,omitempty"`
	Image *MediaPayload `json:"image,omitempty"`
	Voice *MediaPayload `json:"voice,omitempty"`
	Video *MediaPayload `json:"video,omitempty"`
	File  *MediaPayload `json:"file,omitempty"`
	Event *EventPayload `json:"event,omitempty"`
}

// TextPayload carries the text content of a text message.
type TextPayload struct {
	Content string `json:"content"`
}

// MediaPayload carries the media id of an image/voice/video/file message.
type MediaPayload struct {
	MediaID string `json:"media_id"`
}

// EventPayload carries system event details.
type EventPayload struct {
	EventType      string `json:"event_type"`
	OpenKFID       string `json:"open_kfid"`
	ExternalUserID string `json:"external_userid"`
	Scene          string `json:"scene"`
	WelcomeCode    string `json:"welcome_code"`
}

// DisplayText extracts a human-readable rendition of the message: the text
// content for text messages, a bracketed placeholder for media types, and an
// empty string for anything that has no dispatchable content.
func (m *Message) DisplayText() string {
	switch m.MsgType {
	case "text":
		if m.Text != nil {
			return m.Text.Content
		}
	case "image":
		return "[image]"
	case "voice":
		return "[voice]"
	case "video":
		return "[video]"
	case "file":
		return "[file]"
	case "location":
		return "[location]"
	case "link":
		return "[link]"
	case "miniprogram":
		return "[miniprogram]"
	}
	return ""
}
