package mqtt

import "fmt"

// maxPayloadSize bounds one characteristic or status message.
const maxPayloadSize = 64 * 1024

// Publish sends payload to topic and waits for the broker's acknowledgement.
// Retained messages are replayed to new subscribers; use them for state and
// availability, never for commands.
//
//	topic := client.Topics().Command(id, accessory.ServiceSwitch)
//	err := client.Publish(topic, []byte(`{"name":"on-off","on":true}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %q: no acknowledgement within %v", ErrPublishFailed, topic, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
