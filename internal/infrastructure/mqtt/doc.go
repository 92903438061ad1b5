// Package mqtt wraps paho.mqtt.golang for Gray Mesh Core's broker
// traffic: outbound telemetry republishing and inbound device commands.
//
// # Architecture
//
// Telemetry flows out so secondary consumers (dashboards, automations,
// recorders) never join the gateway multicast group; commands flow in
// on graymesh/command/{sid} so those same consumers can drive the
// gateway without raw UDP access.
//
//	multicast → Gray Mesh Core → broker → consumers
//	consumers → broker → Gray Mesh Core → gateway
//
// The client handles auto-reconnect with backoff, restores tracked
// subscriptions after a reconnect, and installs a Last Will on
// graymesh/system/status so consumers can tell a crash from a graceful
// shutdown.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
//
//	topic := mqtt.Topics{}.DeviceState("158d0001a2b3c4", "temperature")
//	client.Publish(topic, []byte(`{"value":22.03}`), 1, true)
//
// TLS and broker credentials are configured per deployment; anonymous
// plaintext is for local development only.
package mqtt
