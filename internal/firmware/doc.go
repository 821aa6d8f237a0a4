// Package firmware encodes commands for and decodes replies from
// BrewPi-compatible fermentation controller firmware.
//
// The firmware speaks a line protocol. Commands are a single ASCII letter,
// optionally followed by a JSON payload. Replies are newline-terminated
// lines of the form "<marker>:<payload>":
//
//	T:{"BeerTemp":19.8,"BeerSet":20.0,...}   temperatures
//	L:["Mode   Beer Const", ...]             LCD contents
//	C:{"tempFormat":"C",...}                 control constants
//	S:{"mode":"b","beerSet":20.0,...}        control settings
//	V:{...}                                  control variables
//	N:{"v":"0.2.11","b":"l","s":2,...}       version
//	h:[...] / d:[...]                        available / installed devices
//	U:{...}                                  device update acknowledgement
//	D:{...}                                  debug message
//
// Payloads are decoded defensively: unknown keys are ignored, missing keys
// stay nil, and a payload that does not parse yields ErrDecode. Nothing in
// this package is fatal to a session; the caller logs and drops bad frames.
//
// The protocol carries no request identifiers. A reply is matched to a
// command by being the next frame of the kind the command expects.
package firmware
