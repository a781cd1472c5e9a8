// Package artifacts provides artifact store implementations.
//
// Artifacts are immutable blobs addressed by keys built in pkg/domain
// (slide images, scripts, audio, segments and final videos). A key is never
// rewritten with different content: new script versions produce new keys.
//
// Implementations:
//   - filesystem: files under a root directory, written via temp file and rename (default)
//   - s3: AWS S3 or any S3-compatible endpoint
//   - memory: In-memory for testing
package artifacts
