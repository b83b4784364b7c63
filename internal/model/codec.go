package model

import (
	"encoding/json"
	"fmt"
)

// CodecVersion is the version written into every encoded entry.
// Version 1 - initial envelope
const CodecVersion = 1

type envelope struct {
	Version int             `json:"v"`
	Kind    Kind            `json:"kind"`
	Entry   json.RawMessage `json:"entry"`
}

// EncodeEntry serializes an entry into its stored form.
func EncodeEntry(e Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode entry: nil entry")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Kind(), err)
	}
	data, err := json.Marshal(envelope{Version: CodecVersion, Kind: e.Kind(), Entry: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Kind(), err)
	}
	return data, nil
}

// DecodeEntry parses bytes written by EncodeEntry.
func DecodeEntry(data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if env.Version != CodecVersion {
		return nil, fmt.Errorf("decode entry: unsupported version %d", env.Version)
	}
	e, ok := newEntry(env.Kind)
	if !ok {
		return nil, fmt.Errorf("decode entry: unknown kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Entry, e); err != nil {
		return nil, fmt.Errorf("decode %s entry: %w", env.Kind, err)
	}
	return e, nil
}

// EncodeEntries serializes entries as one JSON array of envelopes. Used for
// compressed chunks.
func EncodeEntries(entries []Entry) ([]byte, error) {
	raw := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		data, err := EncodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		raw[i] = data
	}
	return json.Marshal(raw)
}

// DecodeEntries parses bytes written by EncodeEntries.
func DecodeEntries(data []byte) ([]Entry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	entries := make([]Entry, len(raw))
	for i, r := range raw {
		e, err := DecodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i] = e
	}
	return entries, nil
}
