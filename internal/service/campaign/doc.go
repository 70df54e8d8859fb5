// Package campaign implements campaign lifecycle management.
//
// A campaign moves draft → scheduled → sending → sent. Scheduling can be
// undone (scheduled → draft); nothing moves backwards from sending. The
// service owns the enqueue path shared by send-now and scheduled
// promotion: resolve the segment, filter suppressed and over-cap
// recipients, assign A/B variants, persist one CampaignSend per recipient
// together with the status change, then hand jobs to the delivery queue.
//
// The sending → sent transition is reconciliation only. The scheduler
// calls Finalize once every send of a campaign is terminal.
//
// Repository implementations live in repository/postgres/.
package campaign
