// Package tipsession manages resilient end-to-end encrypted direct
// message sessions over an asynchronous messaging network. The messaging
// session runs inside an isolated execution context that cannot touch the
// wallet signer or durable storage; both are reached over a correlated
// frame protocol, so a slow or absent host answer degrades a single
// operation instead of wedging the session.
//
// The Messenger facade ties the pieces together: a session client with
// storage-tier fallback for restricted environments, a conversation cache
// that collapses concurrent negotiations, a send pipeline with bounded
// retries and a detached mirror write, and history reconciliation that
// merges the live network with the mirror.
//
// Basic usage:
//
//	profile, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	m := tipsession.New(dialer, store, profile)
//	if err := m.Connect(ctx, identity.New(addr, identity.KindExternallyOwned, signer)); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Disconnect()
//
//	res := m.SendMessage(ctx, peerID, "hello")
//	if !res.Success {
//		log.Printf("send failed: %v", res.Err)
//	}
//
// The worker and host packages run the same facade split across the
// isolation boundary, with wire.Pipe or a WebSocket transport carrying
// the frames.
package tipsession
