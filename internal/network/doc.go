// Package network exchanges raw query payloads with upstream servers over non-blocking UDP and TCP
// sockets driven by a shared reactor. It abstracts away the API differences between the two
// transports and leaves message encoding to callers.
package network
