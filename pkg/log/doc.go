// Package log provides the structured logging abstraction used throughout
// histoship.
//
// Components depend on the [Logger] interface and receive an implementation
// in their constructors. [NewZerologAdapter] wraps rs/zerolog for production
// use; [Noop] discards everything and is handy in tests.
package log
