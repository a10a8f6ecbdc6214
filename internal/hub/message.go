package hub

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// MessageType identifies the kind of reload message sent to browsers.
type MessageType string

const (
	// MessageTypeReload asks the page to reload fully.
	MessageTypeReload MessageType = "reload"

	// MessageTypeCSSReload asks the page to swap stylesheets matching File
	// without a full reload.
	MessageTypeCSSReload MessageType = "css-reload"

	// MessageTypeJSReload is part of the protocol but not emitted: script
	// state cannot be swapped in place, so .js changes use a full reload.
	MessageTypeJSReload MessageType = "js-reload"
)

// Message is the JSON text frame pushed to every browser session.
type Message struct {
	Type MessageType `json:"type"`
	File string      `json:"file"`
}

// NewReloadMessage builds the message for a changed file, choosing a
// stylesheet swap for .css files and a full reload otherwise.
func NewReloadMessage(file string) Message {
	return Message{Type: KindFor(file), File: file}
}

// KindFor returns the message type used for file.
func KindFor(file string) MessageType {
	if strings.EqualFold(filepath.Ext(file), ".css") {
		return MessageTypeCSSReload
	}
	return MessageTypeReload
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}
