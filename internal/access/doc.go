// Package access is the daemon's access-control core. It mediates every
// externally-triggered operation a connected client may attempt against the
// object graph, deciding per operation whether to allow it, block it, or
// defer to a desktop portal that asks the user for consent. It also filters
// subscription events so a client never learns about objects it could not
// inspect.
package access
