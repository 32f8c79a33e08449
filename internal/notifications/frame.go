package notifications

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Client commands.
const (
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandDisconnect  = "DISCONNECT"
)

// Server commands.
const (
	CommandConnected = "CONNECTED"
	CommandMessage   = "MESSAGE"
	CommandError     = "ERROR"
	CommandReceipt   = "RECEIPT"
)

// Frame is one JSON WebSocket frame in either direction.
type Frame struct {
	Command      string            `json:"command"`
	ID           string            `json:"id,omitempty"`
	Destination  string            `json:"destination,omitempty"`
	Subscription string            `json:"subscription,omitempty"`
	Receipt      string            `json:"receipt,omitempty"`
	Session      string            `json:"session,omitempty"`
	Message      string            `json:"message,omitempty"`
	Code         string            `json:"code,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
}

func (f Frame) encode() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		data, _ = json.Marshal(Frame{Command: CommandError, Message: "encode frame failed"})
	}
	return data
}

// ChatDestination is the topic clients subscribe to for one chat stream.
func ChatDestination(chatID uint, topic string) string {
	return fmt.Sprintf("/topic/chat.%d.%s", chatID, topic)
}

// UserDestination is the topic of one user stream.
func UserDestination(userID uint, topic string) string {
	return fmt.Sprintf("/topic/users.%d.%s", userID, topic)
}

// ChatPrefix matches every topic of a chat.
func ChatPrefix(chatID uint) string {
	return fmt.Sprintf("/topic/chat.%d.", chatID)
}

// scope of a parsed destination.
const (
	scopeChat = "chat"
	scopeUser = "users"
	scopeCall = "call"
)

var (
	topicPattern = regexp.MustCompile(`^/topic/(chat|users)\.([0-9]+)\.([a-z]+)$`)
	appPattern   = regexp.MustCompile(`^/app/(chat|call)\.([0-9]+)\.([a-z]+)$`)
)

// destination is a parsed /topic or /app address.
type destination struct {
	scope string
	id    uint
	topic string
}

func parseTopic(raw string) (destination, bool) {
	return parseDestination(topicPattern, raw)
}

func parseApp(raw string) (destination, bool) {
	return parseDestination(appPattern, raw)
}

func parseDestination(re *regexp.Regexp, raw string) (destination, bool) {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return destination{}, false
	}
	id, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil || id == 0 {
		return destination{}, false
	}
	return destination{scope: m[1], id: uint(id), topic: m[3]}, true
}
