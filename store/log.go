// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package store

import (
	"github.com/Kamino-Finance/limo"
	"github.com/dgraph-io/badger"
)

// badgerLoggerWrapper wraps limo.Logger and translates Warnf to Warningf to
// satisfy badger.Logger. It also lowers the log level of Infof to Debugf and
// Debugf to Tracef.
type badgerLoggerWrapper struct {
	limo.Logger
}

var _ badger.Logger = (*badgerLoggerWrapper)(nil)

// Debugf -> limo.Logger.Tracef
func (log *badgerLoggerWrapper) Debugf(s string, a ...interface{}) {
	log.Tracef(s, a...)
}

// Infof -> limo.Logger.Debugf
func (log *badgerLoggerWrapper) Infof(s string, a ...interface{}) {
	log.Debugf(s, a...)
}

// Warningf -> limo.Logger.Warnf
func (log *badgerLoggerWrapper) Warningf(s string, a ...interface{}) {
	log.Warnf(s, a...)
}
