// Package delivery runs campaign sends to completion.
//
// A Queue holds one Job per CampaignSend. A Pool of workers claims jobs,
// throttled by an optional Limiter, and hands each to a Processor that
// renders and transmits the message. Transient errors are retried with
// exponential backoff up to a fixed attempt ceiling; after the last attempt
// the send is marked failed. Sends whose context has disappeared are
// terminal immediately and never consume retries.
//
// Delivery is at-least-once at the queue and at-most-once in effect: the
// processor skips any send whose sent_at is already set, and marks sent_at
// with a conditional update.
package delivery
