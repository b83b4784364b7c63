package model

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
)

// PayloadKind distinguishes inline payloads from blob references.
type PayloadKind string

const (
	PayloadInline   PayloadKind = "inline"
	PayloadExternal PayloadKind = "external"
)

// OplogPayload is a value recorded by an entry: either the bytes themselves
// or a reference to a blob uploaded through the owning oplog.
type OplogPayload struct {
	Kind      PayloadKind `json:"kind"`
	Data      []byte      `json:"data,omitempty"`
	PayloadID uuid.UUID   `json:"payload_id,omitempty"`
	MD5Hash   []byte      `json:"md5_hash,omitempty"`
}

// InlinePayload wraps data stored directly in the entry.
func InlinePayload(data []byte) OplogPayload {
	return OplogPayload{Kind: PayloadInline, Data: data}
}

// ExternalPayload references a blob by id and content hash.
func ExternalPayload(id uuid.UUID, md5Hash []byte) OplogPayload {
	return OplogPayload{Kind: PayloadExternal, PayloadID: id, MD5Hash: md5Hash}
}

// IsInline reports whether the payload carries its own bytes.
func (p OplogPayload) IsInline() bool {
	return p.Kind != PayloadExternal
}

// BlobPath returns "hex(md5)/payload_id", the location of an external payload
// inside its blob namespace.
func (p OplogPayload) BlobPath() string {
	return hex.EncodeToString(p.MD5Hash) + "/" + p.PayloadID.String()
}

// Equal compares two payloads by content.
func (p OplogPayload) Equal(other OplogPayload) bool {
	if p.IsInline() != other.IsInline() {
		return false
	}
	if p.IsInline() {
		return bytes.Equal(p.Data, other.Data)
	}
	return p.PayloadID == other.PayloadID && bytes.Equal(p.MD5Hash, other.MD5Hash)
}
