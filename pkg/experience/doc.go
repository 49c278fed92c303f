// Package experience runs the real-time side of the gateway: one WebSocket
// per player, bound to that player's NATS world-update subject.
//
// The Manager owns every live connection. Connect registers the socket,
// initializes the player's world state and subscribes to
// world.updates.user.{id} when the bus is up; Disconnect undoes all of it
// and is safe to call more than once. Bus callbacks look the connection up
// at delivery time, so an event racing a disconnect is dropped instead of
// written to a dead socket.
//
// Handler is the HTTP entry point (GET /ws/experience). It authenticates the
// token query parameter, then reads JSON frames and dispatches them by type:
// action, ping or chat. Chat turns merge the NPC responder's stream with the
// player's bus events through a stream.Multiplexer, bus events first.
package experience
