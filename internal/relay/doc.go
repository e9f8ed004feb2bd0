// Package relay implements the TCP relay server for relayd.
//
// The relay lets a coordinator process push payloads to transient worker
// clients and route their tool requests, without the coordinator tracking
// sockets itself.
//
// # Architecture
//
//   - Server: listens for TCP connections, owns the lifecycle and exposes
//     Broadcast/SendTo/SendToUser to the embedding process
//   - Conn: one accepted connection with read/write pumps and frame reassembly
//   - Registry: maps registered client identities and user correlations to
//     live connections
//   - DeliveryQueue: holds payloads that could not be delivered yet and
//     replays them when recipients appear
//   - Dispatcher: routes inbound frames by message type
//
// # Message Protocol
//
// Communication uses JSON messages delimited by newlines:
//
//	{"type":"register_client","clientId":"worker-1"}\n
//	{"type":"user_client_map","userId":"user42","clientId":"worker-1"}\n
//	{"type":"tool_request","tool_id":"search","args":{...}}\n
//	{"type":"tool_response","tool_id":"search","result":{...}}\n
//
// A connection starts anonymous; it becomes addressable for targeted
// delivery once it registers an identity. Outbound payloads are arbitrary
// JSON objects, delivered one per line.
//
// # Delivery Semantics
//
// Broadcasts go to every live connection, registered or not, and are never
// retried: with the server not ready they wait in the queue, and the startup
// flush delivers them to whoever is present at that moment. Targeted sends
// wait in the queue until the addressed identity registers; arrival order
// per identity is preserved across flushes.
//
// Usage
//
//	server := relay.NewServer(cfg)
//	server.SetInvoker(engine)
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
//	server.SendTo("worker-1", payload)
package relay
