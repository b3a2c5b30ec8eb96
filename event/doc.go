// Package event defines the closed, tagged union of server push events and
// the decode boundary that turns raw JSON text frames into typed values.
//
// Every inbound frame carries a "type" field discriminating the variant.
// Unknown or malformed frames are rejected here so that downstream consumers
// can match exhaustively over a stable union. The package also provides the
// outbound control frame constructors (ping, subscribe) used by the
// connection manager.
package event
