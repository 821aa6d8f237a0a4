// Package mqtt connects one bridge to an MQTT broker.
//
// The broker is optional. A Client is bound to a single device name and
// every topic it touches lives under brewbridge/{device}:
//
//	status        retained dashboard snapshot (JSON)
//	lcd           retained LCD lines (JSON array)
//	reading       one message per logged reading
//	health        retained bridge health
//	availability  retained "online"/"offline", with a Last Will
//	command       keyword[=value] requests, see OnCommand
//	response      replies to command requests
//
// Sessions are clean. paho reconnects on its own and the client
// re-subscribes to the command topic and re-announces availability each
// time it does.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "fermenter", log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.OnCommand(1, func(line string) error { ... })
package mqtt
