// Package apify is the job-runner client: it starts Instagram profile scrapes
// on Apify, polls their status and reads the resulting datasets.
//
// Calls are paced with golang.org/x/time/rate and retried on network, 429 and
// 5xx failures. A missing API token is a configuration error raised before any
// request is sent.
//
//	client := apify.NewClient(tokens, apify.WithLogger(log))
//	runID, err := client.StartRun(ctx, "alice", apify.RunOptions{ResultsLimit: 50})
//	status, err := client.CheckStatus(ctx, runID)
//	items, err := client.DatasetItems(ctx, status.DatasetID)
//	profile, warnings, err := apify.DecodeProfile(items[0])
package apify
