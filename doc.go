// Package inferflow implements a streaming inference gateway on top of
// Watermill: API processes dispatch generation requests onto a work queue,
// workers stream the generation from a provider backend (vLLM, Ollama, or
// any OpenAI-compatible server) and publish each chunk onto a shared
// response queue, and the gateway correlates chunks back to the waiting
// caller, accumulates the full text, computes usage and cost, and persists
// the finalized result.
//
// The broker transport (RabbitMQ, Kafka, NATS, or in-process Go channels)
// is selected by Config; RabbitMQ is the production default, with durable
// queues and prefetch 1 so a worker handles one generation at a time.
// Both daemons supervise their connection and re-run the full
// initialization sequence after a fixed delay when the broker drops.
//
// See the gateway package for the dispatch and correlation side, the relay
// package for the worker side, and cmd/ for the runnable daemons.
package inferflow
