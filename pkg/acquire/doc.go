// Package acquire turns remote Instagram CDN image URLs into durable
// references.
//
// Acquire tries, in order:
//
//   - passthrough for anything that is not an absolute http(s) URL
//   - the URL as-is when it already points into owned storage
//   - a direct fetch followed by an upload through a storage.Gateway
//   - a delegated fetch by the download-instagram-image edge function
//   - a same-origin image proxy path
//
// Every failure is logged and absorbed, so callers always get a usable
// reference back.
package acquire
