// Package server is the local command socket other processes use to talk
// to the bridge.
//
// The protocol is one request per connection. A client connects, writes a
// single line (keyword or keyword=value) and reads one reply line before
// the server closes the connection. There is no keep-alive and no
// multiplexing.
//
// The server never runs its own goroutines. The bridge main loop calls
// Poll once per iteration; Poll waits at most AcceptTimeout for a client,
// reads its request and hands it to a Handler. The handler answers
// immediately from cache, keeps the Conn and answers once a firmware reply
// arrives, or closes it without an answer for requests it does not serve.
// Conns left unanswered past ReplyTimeout are closed by a later Poll.
//
// Replies come in four shapes: a bare value, a JSON document, the literal
// acknowledgement "ok", and "error: <text>" for rejected requests.
// EncodeReply and DecodeReply convert between them and the wire form.
package server
