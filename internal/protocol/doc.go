// Package protocol concerns itself primarily with DNS protocol-specific business logic. It encodes
// queries, validates responses, and mediates requests between a client and the upstream servers;
// the transport layer below it only ever sees opaque payloads.
package protocol
