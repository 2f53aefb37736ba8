// Package hub is the WebSocket surface: per-sandbox live log streaming and
// interactive PTY terminals.
//
// The log endpoint sends a status frame, replays the newest stored lines in
// chronological order, then tails the sandbox's broker topic. Viewers are
// independent; one that cannot keep up is closed with 1009 without
// disturbing the collector or other viewers.
//
// The terminal endpoint opens a PTY shell in the container and relays bytes
// in both directions: binary frames are terminal I/O, text frames opening
// with '{' are resize/ping controls.
package hub
