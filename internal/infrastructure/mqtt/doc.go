// Package mqtt connects the station bridge to an MQTT broker.
//
// Client wraps paho.mqtt.golang with auto-reconnect, subscription
// restore after reconnects, and a retained status topic backed by a Last
// Will so other services notice when the bridge goes away.
//
// Topic layout:
//
//	stationbridge/command/{device_id}   commands in
//	stationbridge/ack/{device_id}       command results out
//	stationbridge/state/{device_id}     observed state (retained)
//	stationbridge/event/{type}          events, e.g. scenario_run
//	stationbridge/system/status         online/offline (retained, LWT)
//	stationbridge/system/health         periodic health
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
