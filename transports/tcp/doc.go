// Package tcp serves telegrams over plain TCP streams, the way most
// controllers on the shop floor talk. Each connection is read by one
// goroutine; telegrams go to the worker pool and replies are written back
// as soon as they are ready.
package tcp
