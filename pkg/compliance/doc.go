// Package compliance orchestrates the evaluation pipeline: it runs telemetry
// events through the policy engine, synthesizes deduplicated violations with
// evidence, and drives the ingestion path that appends events to the signed
// audit chain.
//
// Evaluation is side-effect free up to violation creation. The single point
// of mutual exclusion is the violation store's create-if-absent operation;
// everything before it is a pure read computation, so any number of workers
// may evaluate the same event concurrently and exactly one violation per
// triggering condition survives.
package compliance
