// Package session owns the bridge's view of one fermentation controller.
//
// A Session holds every cache derived from the firmware (version, control
// constants and settings, LCD text, temperatures, device lists) and is the
// only writer to the link. It is driven by the bridge main loop:
//
//	sess.Advance(ctx, now)            // state machine, timers, outbound queue
//	sess.HandleLine(ctx, line, now)   // one reply line from the line reader
//
// # States
//
//	Connecting  -> Handshaking   link opened
//	Handshaking -> Ready         supported version received
//	Handshaking -> Fatal         unsupported version, or no answer in 10 tries
//	Ready       -> Degraded      write failed
//	Degraded    -> Ready         link reopened
//	any         -> Fatal         link could not be (re)opened
//
// Fatal is terminal. The bridge exits and its supervisor restarts it.
//
// # Commands
//
// Commands are queued and written in submission order. At most one command
// that expects a reply is outstanding at a time; later commands wait until
// its frame arrives or the command timeout fires. The firmware has no
// request ids, so a reply is simply the next frame of the expected kind.
//
// # Device lists
//
// A refresh clears both freshness bits. The installed (d:) and available
// (h:) frames each replace their half of the cache and set their own bit.
// DeviceList only answers once both bits are set; otherwise it returns
// ErrStaleDeviceList and the caller retries.
//
// Session is not safe for concurrent use; the main loop is its only caller.
package session
