package engine

import (
	"encoding/base64"
	"time"

	"github.com/studykit/groupsync/internal/store"
)

// BodyKind tags the message body variant.
type BodyKind int

const (
	// BodyText is a plain text message.
	BodyText BodyKind = iota
	// BodyTextWithImage carries text plus an attached image blob.
	BodyTextWithImage
)

// MessageBody is the tagged message payload. The variant is decided once at
// construction; nothing downstream re-inspects the shape.
type MessageBody struct {
	Kind  BodyKind
	Text  string
	Image []byte
}

// TextBody builds a plain text body.
func TextBody(text string) MessageBody {
	return MessageBody{Kind: BodyText, Text: text}
}

// TextWithImageBody builds a text body with an attached image.
func TextWithImageBody(text string, image []byte) MessageBody {
	return MessageBody{Kind: BodyTextWithImage, Text: text, Image: image}
}

// Message is one chat message as emitted to subscribers. Messages are
// immutable once created; ordering key is SentAt, ties broken by arrival
// order.
type Message struct {
	Sender            string
	SenderDisplayName string
	MessageID         string
	Body              MessageBody
	SentAt            time.Time
}

// decodeMessage maps a stored document onto a Message. Older writers stored
// the body either as a bare string or as a nested object with a "text" (or
// legacy "message") key; both shapes resolve to the tagged variant here,
// exactly once.
func decodeMessage(doc store.Document) Message {
	msg := Message{}
	msg.Sender, _ = doc.String("sender")
	msg.SenderDisplayName, _ = doc.String("senderDisplayName")
	msg.MessageID, _ = doc.String("messageID")
	if msg.MessageID == "" {
		msg.MessageID = doc.ID
	}
	msg.SentAt, _ = doc.Time("sentAt")

	switch body := doc.Fields["message"].(type) {
	case string:
		msg.Body = TextBody(body)
	case map[string]any:
		text, _ := body["text"].(string)
		if text == "" {
			text, _ = body["message"].(string)
		}
		if enc, ok := body["image"].(string); ok && enc != "" {
			if img, err := base64.StdEncoding.DecodeString(enc); err == nil {
				msg.Body = TextWithImageBody(text, img)
				break
			}
		}
		msg.Body = TextBody(text)
	}

	if img, ok := doc.String("image"); ok && img != "" {
		if decoded, err := base64.StdEncoding.DecodeString(img); err == nil {
			msg.Body = TextWithImageBody(msg.Body.Text, decoded)
		}
	}
	return msg
}
