// Package transport contains concrete implementations of core.Transport, the
// publish/subscribe fabric carrying task submissions and result/progress
// notifications.
//
// The in-memory implementation here serves tests, examples and single-process
// setups. The redis sub-package provides the multi-process backend using
// Redis PUBLISH/SUBSCRIBE. Both share the same fire-and-forget semantics: a
// message published while no subscriber listens is lost, which the broker and
// submitter layers are designed around.
package transport
