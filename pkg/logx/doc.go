// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a Logger by value; loggers created from a Service stay
// live across Service.Apply() calls, so log level and sinks can be changed
// at runtime without re-plumbing loggers through the app.
package logx
