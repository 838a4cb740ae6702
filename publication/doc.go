// Package publication is the application-facing side of a stream: a
// Publication appends messages into a mapped log buffer shared with the
// driver and reports, for every offer, either the new stream position or
// why nothing was appended. A Conductor creates and tears publications down.
//
// Offers never block. AdminAction and BackPressured are retry signals that
// the caller handles with whatever policy suits it:
//
//	for {
//		res, err := pub.Offer(msg)
//		if err != nil || res.OK() || !res.Status().Retryable() {
//			break
//		}
//	}
package publication
