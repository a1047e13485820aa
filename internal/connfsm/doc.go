// Package connfsm drives one client socket through the handshake →
// preamble → header → body → dispatch → write cycle (§4.2), translating
// framing errors and internal/gateway.Error values into
// wire failure responses and handling the idle-heartbeat abort path.
package connfsm
