// Package chat holds the domain types shared by the support console: conversations,
// messages and the agent identity presented to the backend.
//
// Layout:
//   - wire: versioned live-channel envelope and tagged event decoding.
//   - api: REST client for conversations, history and close.
//   - transport: websocket session, reconnect loop and outbound queue.
//   - directory, reconciler, membership, dispatcher: the synchronization state machines.
//   - console: the single-threaded loop that wires everything together.
package chat
