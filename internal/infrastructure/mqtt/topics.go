package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "forgerunner"

// Command names accepted under the command topic.
const (
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandConsole = "console"
)

// Topics builds the forgerunner topic tree under a prefix:
//
//	{prefix}/status                 supervisor online/offline (retained, LWT)
//	{prefix}/session/state          run state (retained)
//	{prefix}/session/endpoint       public address (retained)
//	{prefix}/session/console        console lines
//	{prefix}/session/alert          warnings and errors
//	{prefix}/command/{name}         start, stop, console
//
// Using these helpers keeps publishers and subscribers in agreement.
type Topics struct {
	prefix string
}

// NewTopics returns builders for prefix, trimming slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the topic tree.
func (t Topics) Prefix() string {
	return t.root()
}

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus returns the topic for supervisor online/offline status.
func (t Topics) SystemStatus() string {
	return t.root() + "/status"
}

// SessionState returns the topic for run state updates.
func (t Topics) SessionState() string {
	return t.root() + "/session/state"
}

// SessionEndpoint returns the topic for the public address.
func (t Topics) SessionEndpoint() string {
	return t.root() + "/session/endpoint"
}

// SessionConsole returns the topic for console output lines.
func (t Topics) SessionConsole() string {
	return t.root() + "/session/console"
}

// SessionAlert returns the topic for warnings and errors.
func (t Topics) SessionAlert() string {
	return t.root() + "/session/alert"
}

// Command returns the topic for one command.
func (t Topics) Command(name string) string {
	return t.root() + "/command/" + name
}

// AllCommands returns a wildcard matching every command topic.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// CommandName extracts the command name from a command topic. It returns
// false for topics outside the command subtree.
func (t Topics) CommandName(topic string) (string, bool) {
	base := t.root() + "/command/"
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	name := strings.TrimPrefix(topic, base)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// All returns a wildcard matching the whole tree.
func (t Topics) All() string {
	return t.root() + "/#"
}
