/*
Package log configures the global zerolog logger.

Init sets the level and output format once at startup; JSON output for
production, console writer for development. WithComponent returns a
child logger tagged with a component field, which is how every package
identifies its log lines.
*/
package log
