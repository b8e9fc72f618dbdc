// Package storage is the bucket/object store gateway for acquired images.
//
// SupabaseGateway talks to Supabase storage with the service-role key:
// EnsureBucket lists the bucket and creates it (public, 50 MiB file limit)
// only when the listing reports it missing; Upload writes with upsert and
// returns the public URL. LocalGateway offers the same contract on disk with
// atomic writes (temporary file + rename).
//
// Usage:
//
//	gw := storage.NewSupabaseGateway(storage.SupabaseConfig{
//	    URL:        cfg.Supabase.URL,
//	    ServiceKey: cfg.Supabase.ServiceKey,
//	    Bucket:     cfg.Supabase.Bucket,
//	})
//	if gw.EnsureBucket(ctx) {
//	    url, err := gw.Upload(ctx, "profiles/alice_1700000000000_ab12cd34.jpg", data, "image/jpeg")
//	}
package storage
