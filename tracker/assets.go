package tracker

import "embed"

// staticAssets embeds the tracker's dashboard/docs static files (spec
// §4.10 static asset list; the dashboard's own content is out of scope per
// spec.md §1 Non-goals, but the routing table that serves it is not, so
// these are minimal placeholders for real assets supplied at deploy time).
//
//go:embed assets/stats.html assets/docs.html assets/404.html assets/style.css assets/js/code.js
var staticAssets embed.FS
