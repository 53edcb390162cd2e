// Package server is the websocket and HTTP edge of RoomChat.
//
// A Hub owns the live connections: each Client runs a read pump that hands
// inbound frames to the chat service in order and a write pump that drains
// the frames the service delivers through Hub.Deliver. Routes mounts the hub
// next to the registration, login, health and metrics endpoints.
package server
