// Package logging centralizes slog construction for the library.
//
// It provides console and JSON handlers, typed attribute constructors, and a
// component-logger helper so every subsystem tags its records consistently.
// Components accept a *slog.Logger and wrap it with NewComponentLogger; nil
// loggers degrade to a no-op handler, which keeps logging optional for
// embedding applications.
package logging
