// Package logging threads a github.com/luxfi/log logger explicitly
// through component constructors, mirroring the teacher's own
// discipline (poll.NewSet(factory, log, registerer), dag engines taking
// a log.Logger field) rather than a package-global logger.
package logging

import "github.com/luxfi/log"

// NewComponent returns root itself, or a no-op logger when root is nil;
// name is not attached to the returned logger. Used as:
//
//	l := logging.NewComponent(root, "dagmgr")
//	l.Info("tip changed", "hash", tip)
func NewComponent(root log.Logger, name string) log.Logger {
	if root == nil {
		return log.NewNoOpLogger()
	}
	return root
}

// NoOp returns a logger that discards everything, for tests.
func NoOp() log.Logger {
	return log.NewNoOpLogger()
}
