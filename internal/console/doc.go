// Package console is the terminal side of the sockws command: it reads input
// lines, turns them into WebSocket operations and prints connection events.
package console
