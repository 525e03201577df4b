// Package router implements the Message Router component.
//
// Every inbound event carries a connection id and a lifecycle phase:
// connect, disconnect, message, or default. Connect is the only phase
// that authorizes (and the only one that can reject); disconnect is
// best-effort cleanup; message dispatches on the envelope's action
// discriminator; default acknowledges anything unrecognized so the
// transport never sees an unexpected failure for an established socket.
package router
