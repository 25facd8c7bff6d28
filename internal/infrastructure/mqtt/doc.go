// Package mqtt connects houseflow daemons to an MQTT broker.
//
// It wraps paho.mqtt.golang with auto-reconnect, subscriptions that survive
// reconnects, a Last Will status topic and the houseflow topic layout:
//
//	houseflow/state/{accessory}/{service}/{characteristic}   retained value
//	houseflow/availability/{accessory}                       retained online/offline
//	houseflow/command/{accessory}/{service}                  characteristic writes
//	houseflow/status/{client-id}                             daemon status and LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, service, err := client.Topics().ParseCommand(topic)
//	        ...
//	    })
//
// TLS should be enabled (cfg.Broker.TLS) whenever the broker is not on
// the local host.
package mqtt
