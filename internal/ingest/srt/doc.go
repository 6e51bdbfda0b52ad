// Package srt implements SRT (Secure Reliable Transport) ingest, including
// both listener-mode (Server) for accepting incoming publish connections and
// caller-mode (Caller) for pulling streams from remote SRT sources. The
// streamid selects the stream key and the input packaging: a "dvd/" prefix
// marks private-stream sub-packets, anything else is a raw elementary stream.
package srt
