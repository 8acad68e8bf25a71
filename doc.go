// Package dia is the API access layer of the DIA investment app. It
// talks to the DIA backend through an ordered list of candidate
// endpoints and degrades to a fixed offline data set when none of them
// answers.
//
// It wraps the standard net/http client and adds:
//   - Per-platform endpoint lists (web prefers same-machine addresses,
//     native prefers the public tunnel)
//   - Forward-only endpoint rotation, one attempt per candidate
//   - Offline mode: every operation still succeeds, with substitute data
//   - Bearer token attachment, cleared by an empty token
//   - Atomic stats and a Prometheus collector
//   - Optional client-side rate limiting (golang.org/x/time/rate)
//
// Configuration uses the functional options pattern:
//
//	client := dia.New(
//	    dia.WithTopology(dia.Topology{
//	        dia.PlatformWeb:    {"http://localhost:5001", "http://192.168.31.8:5001"},
//	        dia.PlatformNative: {"https://dia.example.com", "http://192.168.31.8:5001"},
//	    }),
//	    dia.WithPlatform(dia.PlatformNative),
//	    dia.WithTimeout(8*time.Second),
//	)
//	defer client.Close()
//
//	env := client.GetPortfolio(ctx, userID)
//	if env.Source == dia.SourceOffline {
//	    // show the offline indicator
//	}
package dia
