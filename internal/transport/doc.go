// Package transport provides the byte link between the bridge and its
// fermentation controller.
//
// Two implementations sit behind the Link interface:
//
//   - SerialTransport talks to a USB-attached controller through
//     go.bug.st/serial. On open it walks an ordered list of candidate
//     ports (configured, autodetected, alternate) and retries the whole
//     list with a fixed backoff before giving up.
//   - NetworkTransport talks to a WiFi controller that exposes the same
//     serial protocol on a TCP port. It resolves the hostname on every
//     connect, falls back to the last address that worked, and
//     transparently reconnects once when a read or write fails.
//
// Both report successful endpoints through AddressSaver so the next start
// can use them even when autodetection or DNS fails.
//
// Thread Safety:
//   - Read may run in one goroutine while Write, Flush and Open run in
//     another. The underlying handle is swapped under a lock.
//
// Failure Semantics:
//   - Open returns ErrTransportOpen once its attempt budget is spent. The
//     bridge treats that as fatal and exits for its supervisor to restart.
//   - Read and Write return errors wrapping ErrIO; the caller decides
//     whether to reopen.
package transport
