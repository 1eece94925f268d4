// Package models defines the document-keyed record types shared by the stores.
package models

import "time"

// ChatIndexRecord summarizes the chats saved for one document.
type ChatIndexRecord struct {
	Count        int       `json:"count"`
	LastModified time.Time `json:"last_modified"`
}

// NotebookIndexRecord summarizes a document's notebook sidecar.
type NotebookIndexRecord struct {
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ArtifactIndexRecord lists the artifact keys cached for a document.
type ArtifactIndexRecord struct {
	AvailableTypes []string `json:"available_types"`
}

// Chat is one saved conversation in the current storage format.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	DocumentPath string    `json:"document_path"`
	Model        string    `json:"model,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Transcript   string    `json:"transcript"`
}
