// Package testutil contains helper builders and stub executors used across
// tests to reduce boilerplate when constructing core model objects (requests,
// results) and exercising the dispatch pipeline. These helpers are
// intentionally minimal and avoid adding third-party dependencies. They are
// not intended for production usage.
package testutil
