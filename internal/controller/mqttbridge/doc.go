// Package mqttbridge is a controller that exposes accessories on MQTT.
//
// Characteristic updates are published retained to
// {prefix}/state/{accessory}/{service}/{characteristic} and connectivity to
// {prefix}/availability/{accessory}. A characteristic object published to
// {prefix}/command/{accessory}/{service} is written through the provider.
package mqttbridge
