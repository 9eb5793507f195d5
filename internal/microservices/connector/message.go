package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Action identifies what a request asks the bot to do.
type Action string

const (
	ActionPing             Action = "ping"
	ActionSendAnnouncement Action = "send_announcement"
	ActionCreateEvent      Action = "create_event"
	ActionCheckAdmin       Action = "check_admin"
)

// Known reports whether a is one of the actions the bot understands.
func (a Action) Known() bool {
	switch a {
	case ActionPing, ActionSendAnnouncement, ActionCreateEvent, ActionCheckAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Snowflake is a chat-platform id. It decodes from either a JSON number or a
// JSON string and is always kept as its decimal text, so large ids never pass
// through float64.
type Snowflake string

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Snowflake(text)
		return nil
	}
	if _, err := strconv.ParseUint(string(data), 10, 64); err != nil {
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf(*s)}
	}
	*s = Snowflake(data)
	return nil
}

func (s Snowflake) String() string { return string(s) }

// Request is the envelope sent from the API process to the bot. Only Action
// is common to every request; the other fields belong to specific actions.
type Request struct {
	Action Action `json:"action"`

	ChannelID Snowflake `json:"channel_id,omitempty"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	UserID    Snowflake `json:"user_id,omitempty"`

	// send_announcement
	Everyone bool   `json:"everyone,omitempty"`
	Message  string `json:"message,omitempty"`

	// create_event
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	EntityType  string `json:"entity_type,omitempty"`
	Location    string `json:"location,omitempty"`
	ImageURI    string `json:"image_uri,omitempty"`
}

// Response is the envelope written back for every request. Message is a
// human readable string or a structured payload.
type Response struct {
	Status  Status `json:"status"`
	Message any    `json:"message"`
}

func OK(message any) Response {
	return Response{Status: StatusOK, Message: message}
}

func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

func Errorf(format string, args ...any) Response {
	return Error(fmt.Sprintf(format, args...))
}

func (r Response) IsOK() bool { return r.Status == StatusOK }

// Text returns Message when it is a string, or its JSON form otherwise.
func (r Response) Text() string {
	if text, ok := r.Message.(string); ok {
		return text
	}
	data, err := json.Marshal(r.Message)
	if err != nil {
		return fmt.Sprint(r.Message)
	}
	return string(data)
}

// DecodeMessage converts a structured Message into v.
func (r Response) DecodeMessage(v any) error {
	data, err := json.Marshal(r.Message)
	if err != nil {
		return fmt.Errorf("failed to re-encode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// decodeResponse parses a response frame and checks the envelope shape.
func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Status != StatusOK && resp.Status != StatusError {
		return nil, fmt.Errorf("%w: unexpected status %q", ErrInvalidResponse, resp.Status)
	}
	return &resp, nil
}
