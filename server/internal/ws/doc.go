// Package ws streams session analyses to WebSocket clients.
//
// A client connects to /ws/sessions/{id} and receives the analysis of that
// session immediately, again whenever the session parameters change, and on
// every broadcast tick so that day counts follow the clock. When the session
// is deleted or evicted the client gets a "closed" event and is disconnected.
package ws
