// Package control exposes a call manager over HTTP.
//
// The API is a small JSON interface routed with chi:
//
//	GET    /healthz               liveness and manager state
//	GET    /calls                 current sessions
//	GET    /calls/{peer}          one session
//	POST   /calls/{peer}          place a call
//	POST   /calls/{peer}/answer   answer a held incoming call
//	POST   /calls/{peer}/toggle   hang up if in a call, otherwise call
//	DELETE /calls/{peer}          hang up
//	GET    /events                websocket stream of manager events
//
// Events are pushed through a Hub, which drops clients that cannot keep
// up instead of blocking the manager.
package control
