// Package relayclient is the worker-side counterpart to the relay server.
//
// A client dials the relay, registers its identity (optionally bound to a
// user id), then receives pushed payloads via the OnPush handler and issues
// blocking tool invocations with InvokeTool. When the connection drops the
// client redials with exponential backoff and re-registers, since the server
// forgets closed connections.
package relayclient
