// Package mqtt mirrors the device reconciliation state onto an MQTT broker.
//
// Each installation owns two retained topics:
//
//	watchme/device/{install}/state   latest state snapshot (JSON)
//	watchme/device/{install}/status  online/offline, doubles as Last Will
//
// Dashboards and home-automation rules subscribe to these instead of
// polling the local API.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.MQTT.Broker.ClientID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	states, cancel := manager.Subscribe(8)
//	defer cancel()
//	go mqtt.Run(ctx, mqtt.NewStatePublisher(client, client.Topics(), log), states)
//
// TLS (cfg.Broker.TLS) should be on for anything beyond a local broker.
package mqtt
