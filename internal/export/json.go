// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/parley/internal/model"
)

// JSONExporter writes the conversation document as stored, so an export
// can be read back with json.Unmarshal into model.Conversation.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter. Options do not filter JSON.
func NewJSONExporter(*Options) *JSONExporter {
	return &JSONExporter{}
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(conv model.Conversation) ([]byte, error) {
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string { return "application/json" }
