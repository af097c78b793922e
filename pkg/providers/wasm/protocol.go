package wasm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dataxchange/dxp/pkg/record"
)

// MessageType identifies a protocol message.
type MessageType string

const (
	// MessageTypeBegin opens the record stream of one import statement.
	MessageTypeBegin MessageType = "BEGIN"
	// MessageTypeRecord carries one target record.
	MessageTypeRecord MessageType = "RECORD"
	// MessageTypeEnd closes the record stream.
	MessageTypeEnd MessageType = "END"

	// MessageTypeEvent is a log line from the module.
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeError reports that the module rejected the stream.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeDone reports that the module consumed the stream.
	MessageTypeDone MessageType = "DONE"
)

// Validate checks that the message type is known.
func (t MessageType) Validate() error {
	switch t {
	case MessageTypeBegin, MessageTypeRecord, MessageTypeEnd,
		MessageTypeEvent, MessageTypeError, MessageTypeDone:
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", t)
	}
}

// Message is one JSON line of the protocol.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BeginMessage opens a stream.
type BeginMessage struct {
	RunID   string            `json:"run_id"`
	Action  string            `json:"action"`
	Subject string            `json:"subject"`
	Fields  []string          `json:"fields"`
	Context map[string]string `json:"context,omitempty"`
}

// RecordMessage carries the target record of one row.
type RecordMessage struct {
	Row    int         `json:"row"`
	Fields *record.Bag `json:"fields"`
}

// EndMessage closes a stream.
type EndMessage struct {
	Records int `json:"records"`
}

// EventMessage is a log line from the module.
type EventMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorMessage reports a failure from the module.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DoneMessage reports how many records the module accepted.
type DoneMessage struct {
	Accepted int    `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Encoder writes protocol messages as JSON lines.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one message.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var raw []byte
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	line, err := json.Marshal(Message{Type: msgType, Timestamp: time.Now().UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return e.w.WriteByte('\n')
}

// Flush writes buffered messages to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// ErrMalformed is returned by Decode for a line that is not a protocol
// message. Decoder.Line returns the offending text.
var ErrMalformed = errors.New("malformed protocol message")

// Decoder reads protocol messages from JSON lines.
type Decoder struct {
	r    *bufio.Scanner
	line string
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next message. Blank lines are skipped. It returns io.EOF
// at the end of the input.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if !d.r.Scan() {
			if err := d.r.Err(); err != nil {
				return nil, fmt.Errorf("scan error: %w", err)
			}
			return nil, io.EOF
		}
		d.line = d.r.Text()
		if len(d.r.Bytes()) > 0 {
			break
		}
	}

	var msg Message
	if err := json.Unmarshal(d.r.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// Line returns the text of the last line read.
func (d *Decoder) Line() string {
	return d.line
}

// DecodeData unmarshals the payload of msg into target.
func DecodeData(msg *Message, target interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, target); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", msg.Type, err)
	}
	return nil
}
