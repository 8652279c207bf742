// Package testutil provides in-memory fakes and fixtures for gateway tests.
//
// FakeTransport stands in for a serial or TCP photometer link: tests feed it
// lines, make Connect fail and cut the link on demand. FakeSession stands in
// for a broker session: it records every message and can be told to refuse
// connections or fail publishes.
//
// Both fakes satisfy their interfaces structurally so packages that define
// those interfaces can use them without an import cycle.
//
// Example:
//
//	link := testutil.NewFakeTransport("tcp:192.168.4.1:23")
//	link.Feed(testutil.TESSWLine(5.12, 1))
//
//	session := testutil.NewFakeSession("mqtt")
//	session.FailPublish(errors.ErrAckTimeout)
package testutil
