package device

import "strings"

const DefaultTopicRoot = "esp"

// Topics describes the MQTT topic layout shared by the ESP firmware and the bridge.
type Topics struct {
	Root string
}

func NewTopics(root string) Topics {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		root = DefaultTopicRoot
	}
	return Topics{Root: root}
}

func (t Topics) root() string {
	if t.Root == "" {
		return DefaultTopicRoot
	}
	return t.Root
}

func (t Topics) Sensor() string { return t.root() + "/sensor" }

func (t Topics) Hello() string { return t.root() + "/hello" }

func (t Topics) StatusPrefix() string { return t.root() + "/status/" }

// StatusWildcard is the subscription filter covering every device status topic.
func (t Topics) StatusWildcard() string { return t.root() + "/status/#" }

func (t Topics) Control(deviceName string) string { return t.root() + "/control/" + deviceName }

// Subscriptions lists every inbound topic filter the bridge listens on.
func (t Topics) Subscriptions() []string {
	return []string{t.Sensor(), t.StatusWildcard(), t.Hello()}
}
