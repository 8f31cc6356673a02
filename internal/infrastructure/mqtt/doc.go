// Package mqtt provides the node's MQTT transport.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and background connect-retry
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored on every reconnect
//   - Last Will and Testament (LWT) on the node status topic
//
// # Topic tree
//
//	graylogic/node/{node_id}/status                 retained online/offline, LWT
//	graylogic/node/{node_id}/system/heartbeat       periodic node status
//	graylogic/node/{node_id}/sensor/{gpio}/data     readings
//	graylogic/node/{node_id}/sensor/{gpio}/status   retained slot info
//	graylogic/node/{node_id}/actuator/{gpio}/status retained actuator state
//	graylogic/node/{node_id}/alert                  safety alerts
//	graylogic/node/{node_id}/command/{name}         inbound commands
//	graylogic/node/{node_id}/response               command responses
//	graylogic/broadcast/emergency                   controller-wide stop
//
// # Offline operation
//
// The node starts even when the broker is unreachable. Connect gives up
// waiting after a timeout while paho keeps retrying; Publish returns
// ErrNotConnected meanwhile so callers can buffer readings.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, cfg.Node.ID)
//	if err := client.Connect(ctx); err != nil {
//	    log.Warn("broker unreachable, continuing offline", "error", err)
//	}
//	defer client.Close()
//
//	err := client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        name, _ := client.Topics().CommandName(topic)
//	        return handle(name, payload)
//	    })
package mqtt
