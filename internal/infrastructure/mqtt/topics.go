package mqtt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// DefaultTopicPrefix is the root of every houseflow topic.
const DefaultTopicPrefix = "houseflow"

// Topics builds houseflow MQTT topics under a prefix.
//
//	topics := mqtt.Topics{Prefix: "houseflow"}
//	topics.State(id, accessory.ServiceSwitch, accessory.NameOnOff)
//	// houseflow/state/{id}/switch/on-off
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State is the retained topic holding a characteristic's latest value.
//
// Example: houseflow/state/{accessory}/temperature-sensor/current-temperature
func (t Topics) State(accessoryID uuid.UUID, service accessory.ServiceName, name accessory.CharacteristicName) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", t.prefix(), accessoryID, service, name)
}

// Availability is the retained "online"/"offline" topic of an accessory.
//
// Example: houseflow/availability/{accessory}
func (t Topics) Availability(accessoryID uuid.UUID) string {
	return fmt.Sprintf("%s/availability/%s", t.prefix(), accessoryID)
}

// Command is the topic a characteristic write is requested on. The payload
// is a characteristic object.
//
// Example: houseflow/command/{accessory}/switch
func (t Topics) Command(accessoryID uuid.UUID, service accessory.ServiceName) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), accessoryID, service)
}

// AllCommands matches every command topic.
//
// Pattern: houseflow/command/+/+
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+/+"
}

// Status is the retained online/offline topic of a daemon, also used as
// its Last Will.
//
// Example: houseflow/status/houseflow-hub
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix(), clientID)
}

// ParseCommand extracts the accessory and service from a command topic.
func (t Topics) ParseCommand(topic string) (uuid.UUID, accessory.ServiceName, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok {
		return uuid.Nil, "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	idPart, servicePart, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(servicePart, "/") {
		return uuid.Nil, "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: accessory id in %q: %w", ErrInvalidTopic, topic, err)
	}
	service, err := accessory.ParseServiceName(servicePart)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, service, nil
}
