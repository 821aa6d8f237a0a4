// Package addresscache persists the last transport endpoints that worked
// for a controller: the IP a hostname resolved to, and the device node a
// USB serial number was found on.
//
// The transport layer writes through Store after every successful connect
// and reads the cached values back at startup, so a bridge whose DNS or
// udev naming is flaky can still reach its controller.
package addresscache
