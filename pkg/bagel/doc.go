// Package bagel provides types, interfaces, and helpers for working with
// BagelDB.
//
// # Overview
//
// The bagel package defines the configuration, the client interfaces
// (Client, UsersClient, Subscription), the request interceptors and the error
// taxonomy. A concrete implementation is provided by the bagelclient package,
// which wires the transports, the session token cache and the live stream
// reconnector. Most consumers import bagelclient to construct a client and
// then work with the interfaces exposed here.
//
// # Errors
//
// Every error the SDK returns can be classified with KindOf. The kinds let a
// caller tell apart bad input, a missing session, an expired OTP request, a
// session that could not be refreshed, upstream rejections and transport
// failures:
//
//	_, err := cli.Users().GetCurrentUser(ctx)
//	switch {
//	case bagel.IsNoActiveSession(err):
//	  // prompt for login
//	case bagel.IsSessionExpired(err):
//	  // the user was logged out after a failed refresh
//	case bagel.KindOf(err) == bagel.KindTransport:
//	  // retry later
//	}
//
// HTTPError keeps the status and raw body of upstream failures.
//
// # Live queries
//
// LiveQuery scopes a live subscription to a collection, an item, or a nested
// collection path:
//
//	q := bagel.Collection("articles").Item("a1").Nested("comments")
package bagel
