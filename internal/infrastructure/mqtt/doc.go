// Package mqtt provides MQTT client connectivity for the supervisor's
// remote-control bridge.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Topic Tree
//
// All topics live under a configurable prefix (default "forgerunner"):
//
//	forgerunner/status              online/offline (retained, LWT)
//	forgerunner/session/state       run state (retained)
//	forgerunner/session/endpoint    public address (retained)
//	forgerunner/session/console     console output
//	forgerunner/session/alert       warnings and errors
//	forgerunner/command/+           start, stop, console
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on localhost (cfg.Broker.TLS=true)
//   - Anyone able to publish on the command topics can start and stop the server;
//     restrict them with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
