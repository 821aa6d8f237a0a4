package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ReplyKind is the shape of a reply.
type ReplyKind int

const (
	// ReplyValue is a bare single-line value, such as a temperature.
	ReplyValue ReplyKind = iota
	// ReplyJSON is a JSON object or array.
	ReplyJSON
	// ReplyAck is the literal acknowledgement.
	ReplyAck
	// ReplyError carries a human-readable rejection.
	ReplyError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyValue:
		return "value"
	case ReplyJSON:
		return "json"
	case ReplyAck:
		return "ack"
	case ReplyError:
		return "error"
	default:
		return fmt.Sprintf("reply(%d)", int(k))
	}
}

const (
	ackText     = "ok"
	errorPrefix = "error: "
)

// Reply is one answer to a request.
type Reply struct {
	Kind ReplyKind
	// Text is the value or error message. Unused for JSON and ack.
	Text string
	// Doc is the document for ReplyJSON, compacted.
	Doc json.RawMessage
}

// Value returns a bare value reply.
func Value(s string) Reply { return Reply{Kind: ReplyValue, Text: s} }

// Ack returns the acknowledgement reply.
func Ack() Reply { return Reply{Kind: ReplyAck} }

// Error returns an error reply carrying err's message.
func Error(err error) Reply { return Reply{Kind: ReplyError, Text: err.Error()} }

// JSON marshals v into a document reply.
func JSON(v any) (Reply, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	return Reply{Kind: ReplyJSON, Doc: b}, nil
}

// RawJSON wraps an already encoded document.
func RawJSON(raw json.RawMessage) Reply {
	return Reply{Kind: ReplyJSON, Doc: raw}
}

// EncodeReply returns the newline-terminated wire form of r.
//
// A bare value must be a single line that cannot be mistaken for another
// shape: it may not equal the ack literal, start with the error prefix, or
// start with '{' or '['.
func EncodeReply(r Reply) ([]byte, error) {
	switch r.Kind {
	case ReplyAck:
		return []byte(ackText + "\n"), nil

	case ReplyError:
		msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Text)
		return []byte(errorPrefix + msg + "\n"), nil

	case ReplyJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.Doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
		}
		if c := buf.Bytes(); len(c) == 0 || (c[0] != '{' && c[0] != '[') {
			return nil, fmt.Errorf("%w: document must be an object or array", ErrInvalidReply)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil

	case ReplyValue:
		if strings.ContainsAny(r.Text, "\r\n") {
			return nil, fmt.Errorf("%w: value spans lines", ErrInvalidReply)
		}
		if r.Text == ackText || strings.HasPrefix(r.Text, errorPrefix) ||
			strings.HasPrefix(r.Text, "{") || strings.HasPrefix(r.Text, "[") {
			return nil, fmt.Errorf("%w: value %q is ambiguous", ErrInvalidReply, r.Text)
		}
		return []byte(r.Text + "\n"), nil

	default:
		return nil, fmt.Errorf("%w: kind %v", ErrInvalidReply, r.Kind)
	}
}

// DecodeReply parses one reply line.
func DecodeReply(line []byte) (Reply, error) {
	s := strings.TrimRight(string(line), "\r\n")
	switch {
	case s == ackText:
		return Ack(), nil
	case strings.HasPrefix(s, errorPrefix):
		return Reply{Kind: ReplyError, Text: strings.TrimPrefix(s, errorPrefix)}, nil
	case strings.HasPrefix(s, "{") || strings.HasPrefix(s, "["):
		if !json.Valid([]byte(s)) {
			return Reply{}, fmt.Errorf("%w: malformed document", ErrInvalidReply)
		}
		return RawJSON(json.RawMessage(s)), nil
	default:
		return Value(s), nil
	}
}

// Equal reports whether two replies have the same shape and content.
// Documents are compared after compaction.
func (r Reply) Equal(o Reply) bool {
	if r.Kind != o.Kind {
		return false
	}
	switch r.Kind {
	case ReplyJSON:
		var a, b bytes.Buffer
		if json.Compact(&a, r.Doc) != nil || json.Compact(&b, o.Doc) != nil {
			return false
		}
		return bytes.Equal(a.Bytes(), b.Bytes())
	case ReplyAck:
		return true
	default:
		return r.Text == o.Text
	}
}

// Decode unmarshals a JSON reply into v.
func (r Reply) Decode(v any) error {
	if r.Kind != ReplyJSON {
		return fmt.Errorf("%w: %v reply is not a document", ErrInvalidReply, r.Kind)
	}
	return json.Unmarshal(r.Doc, v)
}

func (r Reply) String() string {
	switch r.Kind {
	case ReplyJSON:
		return string(r.Doc)
	case ReplyAck:
		return ackText
	case ReplyError:
		return errorPrefix + r.Text
	default:
		return r.Text
	}
}
