// Command sessioncrawler discovers dated council sessions and collects their documents.
//
// Architecture overview:
//   - Discovery: internal/discovery.Walker follows the paginated listing from the first page, asks
//     internal/listing.Parser for session candidates and the next-page link, and upserts unseen dates
//     into internal/store. The walk stops at the first session older than its boundary, when no next
//     page exists, at listing.max_pages, or when a page URL repeats.
//   - Incremental boundary: when the stored dates reach back to within
//     listing.optimization_threshold_days of listing.stop_date, the walk stops at the newest stored
//     date instead of the stop date. --relist disables this and walks back to the stop date.
//   - Persistence: the store is one JSON document written atomically (renameio) after every insert
//     or merge. Deleting a record by hand makes the next walk rediscover it.
//   - Details & files: internal/extractor fills agenda sections for sessions without any, and
//     internal/downloader saves files whose names match download.patterns to the output directory
//     or, when download.gcs_bucket is set, to Cloud Storage.
//   - Fetching: every request goes through one Colly-based fetcher and one per-host rate limiter,
//     so listing pages, detail pages and files share the http.page_delay_ms spacing.
//   - Configuration & plumbing: Viper reads config files and SESSIONS_* env vars; zap logs follow the
//     -v count; Prometheus metrics are exported on /metrics by the serve command; a JSON summary is
//     published to Pub/Sub after walks that found new sessions when pubsub.project_id and
//     pubsub.topic_name are set.
//
// Quick checklist:
//   - Run locally: go run . -v (full run), go run . list --relist, go run . serve --port 8080.
//   - Configure env vars: SESSIONS_LISTING_STOP_DATE, SESSIONS_STORAGE_OUTPUT_DIR,
//     SESSIONS_HTTP_PAGE_DELAY_MS, SESSIONS_DOWNLOAD_GCS_BUCKET, SESSIONS_PUBSUB_PROJECT_ID and
//     SESSIONS_PUBSUB_TOPIC_NAME.
package main
