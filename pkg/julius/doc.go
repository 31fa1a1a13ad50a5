// Package julius provides a client for the Julius speech recognizer's module
// server.
//
// A Client reads the server's block-oriented XML event stream either directly
// on the caller's goroutine (ReadDocument, WaitFor, Recognize) or through a
// background dispatcher (Start, Stop, Join) that publishes Results to an
// unbounded FIFO stream. Recognition documents are optionally converted into
// Sentence values.
package julius
