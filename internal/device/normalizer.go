package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NormalizePacket decodes a transport-delivered payload into the
// canonical packet record. Gateways stringify the nested data field on
// some firmware revisions, so a data value that arrives as a JSON-encoded
// string is decoded a second time before dispatch.
//
// Mandatory-field validation is left to the consumer (Registry and
// Device log and drop); normalization only fails on undecodable JSON.
func NormalizePacket(payload []byte) (*Packet, error) {
	var wire struct {
		Cmd     string          `json:"cmd"`
		SID     string          `json:"sid"`
		ShortID int             `json:"short_id"`
		Model   string          `json:"model"`
		Data    json.RawMessage `json:"data"`
		Token   string          `json:"token"`
	}

	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	p := &Packet{
		Cmd:     wire.Cmd,
		SID:     wire.SID,
		ShortID: wire.ShortID,
		Model:   wire.Model,
		Token:   wire.Token,
	}

	if len(wire.Data) == 0 {
		return p, nil
	}

	raw := bytes.TrimSpace(wire.Data)
	if len(raw) > 0 && raw[0] == '"' {
		// Stringified payload: unwrap, then decode the inner document.
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: unwrapping data: %v", ErrMalformedPacket, err)
		}
		raw = []byte(inner)
	}

	if err := json.Unmarshal(raw, &p.Data); err != nil {
		return nil, fmt.Errorf("%w: decoding data: %v", ErrMalformedPacket, err)
	}

	return p, nil
}
