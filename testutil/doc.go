// Package testutil provides fixtures for gateway tests: a STOMP feed server
// on a loopback socket, MESSAGE frame builders, and a recording downstream
// publisher.
//
// Packages imported by bridge (input/stomp, errors, metric) cannot use it
// from their own tests without an import cycle.
package testutil
