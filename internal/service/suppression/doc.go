// Package suppression implements the suppression list and the pre-enqueue
// recipient filter.
//
// The suppression list is the single source of truth for which email
// addresses and domains must never receive campaign mail. Filter applies
// it together with the per-contact frequency cap, immediately before
// variant assignment on every enqueue path (send-now, scheduled promotion
// and send-remainder).
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
