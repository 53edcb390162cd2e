// Package chat coordinates presence and room membership for connected clients.
//
// The package is transport-agnostic. A transport registers each connection
// with Service.Connect, feeds every inbound frame to Service.HandleEvent and
// calls Service.Disconnect exactly once when the connection goes away.
// Outbound frames leave through the Sink the Service was built with.
//
// Components, leaf first:
//
//	Registry   connection -> bound identity, bound once
//	Rooms      persisted room membership (through Store) and the transient
//	           per-room set of subscribed connections
//	Presence   emits joined/left/arrival/departure/user list/message events
//	ParseInput classifies chat input as a message or a slash command
//	Pipeline   sanitizes, validates, persists and broadcasts a message
//
// Every mutation of a room's connection set and the emissions derived from it
// happen under that room's lock, so a member list sent to a client always
// reflects a state that existed at some instant.
package chat
