// Package codec turns cache values into stored payloads and back.
//
// A payload is a four byte header followed by the body:
//
//	0xCA 'M' <version> <algorithm> <body...>
//
// The body is the JSON form of the value, compressed when it is larger than the
// threshold. Payloads without the header are legacy raw JSON and are still readable.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

const (
	magic0        byte  = 0xCA
	magic1        byte  = 'M'
	SchemaVersion uint8 = 1
	headerLen           = 4

	DefaultThreshold = 1024
)

// ErrCorrupt is returned for payloads that cannot be decoded. The cache treats it as
// a miss and evicts the key.
var ErrCorrupt = errors.New("corrupt cache payload")

type Options struct {
	// Threshold is the serialized size above which bodies are compressed.
	Threshold int
	Algorithm Algorithm
}

// Codec is safe for concurrent use.
type Codec struct {
	threshold int
	algo      Algorithm
	comp      compressor
}

var _ ports.Codec = (*Codec)(nil)

func New(opts Options) *Codec {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	c := &Codec{threshold: opts.Threshold, algo: opts.Algorithm}
	if comp, ok := compressorFor(opts.Algorithm); ok {
		c.comp = comp
	} else {
		c.algo = AlgoNone
	}
	return c
}

func (c *Codec) Encode(v any) (cache.Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("encode cache value: %w", err)
	}

	algo, body := AlgoNone, raw
	if c.comp != nil && len(raw) > c.threshold {
		packed, err := c.comp.compress(raw)
		if err != nil {
			return cache.Entry{}, fmt.Errorf("compress cache value (%s): %w", c.algo, err)
		}
		algo, body = c.algo, packed
	}

	payload := make([]byte, 0, headerLen+len(body))
	payload = append(payload, magic0, magic1, SchemaVersion, byte(algo))
	payload = append(payload, body...)

	return cache.Entry{
		Payload:       payload,
		Compressed:    algo != AlgoNone,
		Algorithm:     algo.String(),
		SchemaVersion: SchemaVersion,
		OriginalSize:  len(raw),
		StoredSize:    len(payload),
	}, nil
}

func (c *Codec) Decode(payload []byte, dest any) error {
	body, err := unwrap(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// unwrap returns the JSON body of an enveloped or legacy payload.
func unwrap(payload []byte) ([]byte, error) {
	if !enveloped(payload) {
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: empty payload", ErrCorrupt)
		}
		return payload, nil
	}
	if payload[2] != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, payload[2])
	}
	algo := Algorithm(payload[3])
	body := payload[headerLen:]
	if algo == AlgoNone {
		return body, nil
	}
	comp, ok := compressorFor(algo)
	if !ok {
		return nil, fmt.Errorf("%w: unknown algorithm %s", ErrCorrupt, algo)
	}
	out, err := comp.decompress(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, algo, err)
	}
	return out, nil
}

// Valid JSON never starts with 0xCA, so the magic cannot collide with legacy values.
func enveloped(payload []byte) bool {
	return len(payload) >= headerLen && payload[0] == magic0 && payload[1] == magic1
}
