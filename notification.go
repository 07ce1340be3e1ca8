package roomarch

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Notification is the wire envelope exchanged between client and server.
// Every message, in either direction, is one UTF-8 encoded JSON object of
// this shape. The Type tag decides which of the optional fields are
// meaningful; absent optional fields are omitted on the wire, never sent as
// null.
type Notification struct {
	Type       string             `json:"type"`
	Method     string             `json:"method,omitempty"`
	Sender     string             `json:"sender,omitempty"`
	Credential *Credential        `json:"cred,omitempty"`
	Room       *RoomConfiguration `json:"room,omitempty"`
	State      *RoomModification  `json:"state,omitempty"`
	Code       *NotificationCode  `json:"code,omitempty"`
	Value      string             `json:"value,omitempty"`
	Clients    []string           `json:"clients,omitempty"`

	hasMethod bool
	hasValue  bool
}

// UnmarshalJSON records which relay fields were present on the wire.
// Method and Value carry opaque client data, so an empty string is a
// legitimate present value and must stay distinguishable from an absent
// or null field.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type notification Notification
	var aux notification
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	aux.hasMethod = fieldPresent(fields, "method")
	aux.hasValue = fieldPresent(fields, "value")

	*n = Notification(aux)
	return nil
}

// HasMethod reports whether the method field was present on the wire.
func (n *Notification) HasMethod() bool {
	return n.hasMethod
}

// HasValue reports whether the value field was present on the wire.
func (n *Notification) HasValue() bool {
	return n.hasValue
}

func fieldPresent(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && !bytes.Equal(raw, []byte("null"))
}

// requireFields checks that every named key is present and non-null in a
// JSON record. Empty strings are present values; only a missing key is a
// schema violation.
func requireFields(data []byte, keys ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ErrInvalidEnvelope
	}
	for _, key := range keys {
		if !fieldPresent(fields, key) {
			return ErrInvalidEnvelope
		}
	}
	return nil
}

// Credential carries the client's authorization data on "auth" requests.
// All three fields must be present when the record is; whether their
// values authorize is the room layer's decision.
type Credential struct {
	APIKey  string `json:"key"`
	Version string `json:"ver"`
	OS      string `json:"os"`
}

func (c *Credential) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "key", "ver", "os"); err != nil {
		return err
	}
	type credential Credential
	var aux credential
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Credential(aux)
	return nil
}

// RoomConfiguration is the payload of "add" and "join" requests.
// Name and Sender must be present; Password is optional. Empty name and
// sender values decode fine and are rejected in-band by the room layer.
type RoomConfiguration struct {
	Name     string `json:"name"`
	Sender   string `json:"sender"`
	Password string `json:"pass,omitempty"`
}

func (r *RoomConfiguration) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "name", "sender"); err != nil {
		return err
	}
	type roomConfiguration RoomConfiguration
	var aux roomConfiguration
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RoomConfiguration(aux)
	return nil
}

// RoomModification is the payload of "mod" requests. Every field is
// optional; only present fields are applied. Password distinguishes
// "absent" from "set to empty string": an empty string is a valid value
// that disables the password check on join.
type RoomModification struct {
	Locked   *bool   `json:"lock,omitempty"`
	Limit    *int    `json:"limit,omitempty"`
	Password *string `json:"pass,omitempty"`
}

// ErrInvalidEnvelope is returned by Decode for messages that do not parse
// into a well-formed envelope. The connection layer turns it into an
// INVALID_REQUEST close.
var ErrInvalidEnvelope = errors.New("invalid notification envelope")

// Decode parses a wire message into a Notification. The type tag must be
// present, and any payload record that is present must carry its required
// fields: a request like {"type":"auth","cred":{}} is malformed, not
// merely incomplete. The check is over field presence, never values, so
// a present-but-empty room name still decodes and gets its in-band
// rejection from the room layer.
func Decode(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, ErrInvalidEnvelope
	}

	if n.Type == "" {
		return nil, ErrInvalidEnvelope
	}

	return &n, nil
}

// Encode serializes the notification for the wire.
func (n *Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// NewStatus builds a "msg" reply carrying a status code.
func NewStatus(code NotificationCode) *Notification {
	return &Notification{Type: TypeMessage, Code: &code}
}

// NewPresence builds the broadcast announcing that sender joined (true) or
// left (false) a room. The flag travels as the strings "true" and "false".
func NewPresence(sender string, present bool) *Notification {
	return &Notification{
		Type:   TypePresence,
		Sender: sender,
		Value:  strconv.FormatBool(present),
	}
}

// NewPass builds a relayed payload message. Value is opaque to the server
// and forwarded verbatim.
func NewPass(sender, method, value string) *Notification {
	return &Notification{
		Type:   TypePass,
		Sender: sender,
		Method: method,
		Value:  value,
	}
}

// NewAuthorization builds an "auth" request for the given credential.
func NewAuthorization(cred Credential) *Notification {
	return &Notification{Type: TypeAuthorization, Credential: &cred}
}
