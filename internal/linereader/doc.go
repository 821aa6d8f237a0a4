// Package linereader drains a controller link in the background and
// reassembles newline-terminated reply lines.
//
// The firmware can emit a debug message (D:{...}) in the middle of a data
// line. Before a line is split off, every complete debug message in the
// buffer is cut out and published to the debug queue, so the data line
// that remains is intact JSON.
//
// Two Queues carry the output to the single consumer (the bridge main
// loop): one for data lines, one for debug messages. The consumer uses
// Peek to look at the head without blocking and Ack once it has handled
// it. Nothing else is shared between the reader goroutine and the rest
// of the bridge.
//
// A run of consecutive read failures moves the reader to StateError. The
// state is terminal: Done is closed and the bridge exits.
package linereader
