// Package bridge runs the bridge main loop.
//
// The Loop is the only goroutine that touches the controller session. Each
// iteration picks one reason and handles it:
//
//	ReasonSocketEvent       serve at most one command server connection
//	ReasonImmediateRecheck  drain firmware replies right after a request
//	ReasonSerialPollTick    drain replies, advance the session, publish state
//
// After a served request the loop rechecks immediately so deferred replies
// (getControlVariables, applyDevice) complete without waiting for the next
// poll tick.
//
// # MQTT
//
// When a publisher is configured the loop publishes, per device:
//
//	brewbridge/{device}/status    retained dashboard snapshot
//	brewbridge/{device}/lcd       retained display lines
//	brewbridge/{device}/health    retained bridge health
//	brewbridge/{device}/reading   one message per logged reading
//
// Request lines arriving on brewbridge/{device}/command are handled like
// socket requests; replies go to brewbridge/{device}/response.
//
// Anyone who can publish to the command topic can read state, change
// setpoints, switch profiles and control logging. Commands that stop the
// bridge (quit, stopScript), reboot the controller (resetController,
// restartController, resetWiFi) or rewrite its hardware configuration
// (applyDevice, writeDevice, setParameters) are refused with an error
// response and are only served on the local socket. Restrict publishing
// to the command topic with broker ACLs.
//
// # Readings
//
// FanOut delivers each logged reading to every configured sink (InfluxDB,
// MQTT). A failing sink does not stop the others.
package bridge
