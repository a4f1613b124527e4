// Package logx is clubqueue's structured logging on top of zerolog.
//
// A Service owns the sinks (readable console, JSON file) and hands out
// Loggers that follow its level and sinks across config reloads. Loggers
// carry fixed fields added with With, typically comp=<component>.
package logx
