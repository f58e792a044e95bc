// Package api serves the chat session HTTP JSON API.
//
// Routes:
//
//	POST /api/chat/session         creates a session
//	GET  /api/chat/sessions        lists sessions
//	GET  /api/chat/session/{id}    returns the session history
//	POST /api/chat/message         sends a message and returns the reply
//	GET  /api/tools                lists the discovered tools
//	GET  /healthz                  liveness
//
// Errors are returned as {"error": "<message>"} without internal details.
package api
