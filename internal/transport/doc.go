// Package transport is the network client of the dependency runtime.
//
// Client implements engine.Client against a backend that speaks two
// connection types, chosen per dependency by its declared connection:
//
//	sse     POST {base}/queue/join, response is a text/event-stream whose
//	        "data:" payloads are JSON stream messages
//	stream  websocket at {base}/stream; the first frame is the join
//	        request, later client frames carry input chunks
//
// Both carry the same message shape the engine consumes (data, status,
// render and log items). Only stream connections accept chunks.
package transport
