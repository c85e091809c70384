package domain

import (
	"time"
)

// Attachment is a reference to a blob stored by the transport service.
// Blob content is not encrypted; only the accompanying text caption
// passes through the crypto pipeline. That asymmetry is a property of
// the current design, preserved as-is.
type Attachment struct {
	URL         string `json:"url"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"size,omitempty"`
}

// PlaintextMessage exists only on the authoring device, between the
// compose box and the fan-out. It is never transmitted or stored.
type PlaintextMessage struct {
	ChatID      string
	Body        string
	Attachments []Attachment
}

// EncryptedEnvelope is the wire and storage form of a message. One
// envelope exists per (message, recipient) pair; an N-member chat
// produces N envelopes for one authored message. Immutable once
// created.
type EncryptedEnvelope struct {
	ID               string       `json:"_id,omitempty"`
	To               string       `json:"to"`
	From             Identity     `json:"from"`
	ChatID           string       `json:"chatId"`
	Institution      string       `json:"institution"`
	EncryptedMessage string       `json:"encryptedMessage"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// DecryptedMessage is the UI-facing form, produced only after a
// successful decrypt and signature verification. It is client-local
// and rebuilt on every load, never persisted in cleartext.
type DecryptedMessage struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Sender      Identity     `json:"sender"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Receiver    string       `json:"receiver"`
}
